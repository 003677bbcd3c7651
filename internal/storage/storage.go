// Package storage archives raw inbound mail: the routed form fields as JSON
// and each attachment as its own object. Backends are S3, a local directory
// and a no-op store for setups that keep nothing.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Archive persists opaque objects under slash-separated keys.
type Archive interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// Object is one attachment to archive.
type Object struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Stored describes an archived inbound message.
type Stored struct {
	RawKey         string
	AttachmentKeys []string
}

// Inbound writes raw inbound messages to an Archive under
// <prefix>/<workshopID>/<yyyy/mm/dd>/<uuid>/.
type Inbound struct {
	archive Archive
	prefix  string
	now     func() time.Time
	newID   func() string
}

// NewInbound wraps archive. prefix may be empty.
func NewInbound(archive Archive, prefix string) *Inbound {
	return &Inbound{
		archive: archive,
		prefix:  strings.Trim(prefix, "/"),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Save stores the raw form and attachments. Keys are returned in attachment
// order so callers can record them next to the attachment metadata.
func (a *Inbound) Save(ctx context.Context, workshopID string, form map[string][]string, attachments []Object) (*Stored, error) {
	dir := path.Join(a.prefix, workshopID, a.now().UTC().Format("2006/01/02"), a.newID())

	raw, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("marshaling inbound form: %w", err)
	}
	out := &Stored{RawKey: path.Join(dir, "message.json")}
	if err := a.archive.Put(ctx, out.RawKey, "application/json", raw); err != nil {
		return nil, fmt.Errorf("archiving inbound form: %w", err)
	}

	for i, obj := range attachments {
		key := path.Join(dir, fmt.Sprintf("%02d-%s", i, sanitizeName(obj.Filename)))
		ct := obj.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		if err := a.archive.Put(ctx, key, ct, obj.Body); err != nil {
			return nil, fmt.Errorf("archiving attachment %s: %w", obj.Filename, err)
		}
		out.AttachmentKeys = append(out.AttachmentKeys, key)
	}
	return out, nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == ':':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, string, []byte) error { return nil }

// Local stores objects as files below a base directory.
type Local struct {
	base string
}

// NewLocal creates the base directory if needed.
func NewLocal(base string) (*Local, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &Local{base: base}, nil
}

func (l *Local) Put(ctx context.Context, key, _ string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := filepath.Join(l.base, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(l.base)+string(os.PathSeparator)) {
		return fmt.Errorf("archive key %q escapes base dir", key)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing archive object: %w", err)
	}
	return os.Rename(tmp, p)
}
