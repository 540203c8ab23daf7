package ingestion_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"OptionPool/internal/ingestion"
	"OptionPool/internal/testutil"

	"github.com/google/uuid"
)

func TestNATSRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		t.Fatalf("ensure outbound stream: %v", err)
	}

	ch := make(chan ingestion.RawEvent, 16)
	sub := ingestion.NewNATSSubscriber(js, ch)
	name := "deposit"
	err = sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:      ingestion.CommandSubjectPrefix + name + ".>",
		CommandType:  name,
		ConsumerName: "test-" + uuid.NewString(),
		StreamName:   ingestion.CommandStream,
	}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	key := "it-" + uuid.NewString()
	body := fmt.Sprintf(`{"idempotency_key":%q,"caller":"0x00000000000000000000000000000000000000a1","timestamp":1700006400,"amount":"1","is_call":true}`, key)
	if _, err := js.Publish(ctx, ingestion.CommandSubjectPrefix+name, []byte(body)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for command")
		case raw := <-ch:
			typeName, err := ingestion.CommandTypeFromSubject(raw.Subject)
			if err != nil {
				t.Fatalf("subject: %v", err)
			}
			cmd, err := ingestion.ParseRawCommand(raw, typeName)
			raw.AckFunc()
			if err != nil || cmd.IdempotencyKey() != key {
				continue
			}
			return
		}
	}
}
