package transport_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
)

func files(n int) []transport.File {
	out := make([]transport.File, n)
	for i := range out {
		out[i] = transport.File{Name: fmt.Sprintf("%d.png", i)}
	}
	return out
}

func TestSendFileBatchesSplitsAtTen(t *testing.T) {
	f := transporttest.New()
	refs, err := transport.SendFileBatches(context.Background(), f, "c1", files(23))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs=%d", len(refs))
	}
	sent := f.Sent()
	if len(sent[0].Files) != 10 || len(sent[1].Files) != 10 || len(sent[2].Files) != 3 {
		t.Fatalf("bad batches: %+v", sent)
	}
}

func TestSendFileBatchesForbiddenFallsBackToText(t *testing.T) {
	f := transporttest.New()
	f.SendFilesErr = transport.ErrForbidden
	refs, err := transport.SendFileBatches(context.Background(), f, "c1", files(2))
	if err != nil || len(refs) != 1 {
		t.Fatalf("refs=%v err=%v", refs, err)
	}
	if txt := f.Texts(); len(txt) != 1 || txt[0] != transport.ForbiddenAttachmentsNotice {
		t.Fatalf("texts=%v", txt)
	}
}

func TestDeleteBestEffortIgnoresMissing(t *testing.T) {
	f := transporttest.New()
	f.DeleteErr = fmt.Errorf("gone: %w", transport.ErrNotFound)
	err := transport.DeleteBestEffort(context.Background(), f, []transport.MessageRef{{ChannelID: "c", MessageID: "1"}})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	f.DeleteErr = errors.New("boom")
	if err := transport.DeleteBestEffort(context.Background(), f, []transport.MessageRef{{ChannelID: "c", MessageID: "1"}}); err == nil {
		t.Fatalf("expected error")
	}
}
