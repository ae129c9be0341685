package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/protocol"
	"github.com/dmitrijs2005/notesync/internal/client/retry"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// AttachmentClient is the part of the protocol client used for uploads.
type AttachmentClient interface {
	PresignAttachment(ctx context.Context, req protocol.PresignRequest) (*protocol.PresignResponse, error)
	UploadAttachment(ctx context.Context, url, contentType string, body []byte) error
}

// Attachments uploads provenance screenshots to object storage and points
// notes at the stored keys.
type Attachments struct {
	client AttachmentClient
	notes  NoteService
	opts   retry.Options
	log    logging.Logger
}

func NewAttachments(client AttachmentClient, notes NoteService, opts retry.Options, log logging.Logger) *Attachments {
	if log == nil {
		log = logging.Nop()
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}
	return &Attachments{client: client, notes: notes, opts: opts, log: log}
}

// Attach uploads files for noteID. Each file is presigned and uploaded as
// one retried unit, so an expired URL is replaced on the next attempt. The
// note's screenshot path is set to the first uploaded file's key.
func (a *Attachments) Attach(ctx context.Context, noteID string, files []string) (retry.BatchResult[string], error) {
	if len(files) == 0 {
		return retry.BatchResult[string]{}, common.NewValidationError("attachments.attach", "no files given")
	}
	n, err := a.notes.Get(ctx, noteID)
	if err != nil {
		return retry.BatchResult[string]{}, err
	}

	var (
		mu   sync.Mutex
		keys = make(map[string]string, len(files))
	)
	res := retry.Batch(ctx, files, a.opts, func(ctx context.Context, path string) error {
		key, err := a.upload(ctx, n.SyncID(), path)
		if err != nil {
			return err
		}
		mu.Lock()
		keys[path] = key
		mu.Unlock()
		return nil
	})
	for _, f := range res.Failed {
		a.log.Warn(ctx, "attachment upload failed", "note", noteID, "file", f.Item, "err", f.Err)
	}
	if len(res.Successful) == 0 {
		return res, fmt.Errorf("no attachment of note %s uploaded", noteID)
	}

	key := keys[res.Successful[0]]
	if _, err := a.notes.Update(ctx, noteID, models.NotePatch{SourceScreenshotPath: &key}); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Attachments) upload(ctx context.Context, syncID, path string) (string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		// A missing file will not appear on retry.
		return "", common.NewValidationError("attachments.read", fmt.Sprintf("%s: %v", filepath.Base(path), err))
	}
	ct := http.DetectContentType(body)

	p, err := a.client.PresignAttachment(ctx, protocol.PresignRequest{NoteID: syncID, ContentType: ct})
	if err != nil {
		return "", err
	}
	if err := a.client.UploadAttachment(ctx, p.URL, ct, body); err != nil {
		return "", err
	}
	return p.Key, nil
}
