package transport

import (
	"context"
	"errors"
)

// ForbiddenAttachmentsNotice replaces a batch the bot may not post as files.
const ForbiddenAttachmentsNotice = "Looks like I do not have the proper permission to send attachments to this channel"

// SendFileBatches posts files in messages of at most MaxFilesPerMessage.
// A forbidden batch is replaced with a text notice; other errors abort and
// return the refs sent so far.
func SendFileBatches(ctx context.Context, a Adapter, channelID string, files []File) ([]MessageRef, error) {
	refs := make([]MessageRef, 0, (len(files)+MaxFilesPerMessage-1)/MaxFilesPerMessage)
	for i := 0; i < len(files); i += MaxFilesPerMessage {
		end := min(i+MaxFilesPerMessage, len(files))
		ref, err := a.SendFiles(ctx, channelID, files[i:end])
		if errors.Is(err, ErrForbidden) {
			ref, err = a.SendText(ctx, channelID, ForbiddenAttachmentsNotice)
		}
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// DeleteBestEffort deletes refs grouped by channel. Forbidden and not-found
// failures are ignored; the first other error is returned after all
// channels were attempted.
func DeleteBestEffort(ctx context.Context, a Adapter, refs []MessageRef) error {
	if len(refs) == 0 {
		return nil
	}
	order := make([]string, 0, 1)
	byChannel := map[string][]string{}
	for _, r := range refs {
		if r.MessageID == "" {
			continue
		}
		if _, ok := byChannel[r.ChannelID]; !ok {
			order = append(order, r.ChannelID)
		}
		byChannel[r.ChannelID] = append(byChannel[r.ChannelID], r.MessageID)
	}

	var first error
	for _, ch := range order {
		err := a.DeleteMessages(ctx, ch, byChannel[ch])
		if err == nil || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
			continue
		}
		if first == nil {
			first = err
		}
	}
	return first
}
