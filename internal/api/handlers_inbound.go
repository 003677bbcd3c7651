package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ignite/workshop-mailer/internal/pkg/httputil"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/service/distribution"
)

// multipartMemory is how much of a routed message is held in memory before
// the multipart reader spills attachments to temp files.
const multipartMemory = 8 << 20

// inboundResponse is the answer to a routed post.
type inboundResponse struct {
	Success bool `json:"success"`
	*distribution.FanoutReport
}

// HandleMailgun accepts a routed message forwarded by a Mailgun route,
// stores it on the workshop owning the recipient address and fans it out to
// the roster. Mailgun retries anything but 2xx and 406, so permanent input
// errors are answered with 4xx only when a retry could never succeed.
//
//	POST /mailgun
func (h *Handlers) HandleMailgun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	msg, err := parseRoutedMessage(r)
	if err != nil {
		if isTooLarge(err) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "routed message exceeds upload limit")
			return
		}
		writeError(w, err)
		return
	}

	if h.signingKey != "" && !verifyMailgunSignature(h.signingKey,
		r.PostForm.Get("timestamp"), r.PostForm.Get("token"), r.PostForm.Get("signature")) {
		logger.Warn("[api] routed message with bad signature", "recipient", msg.Recipient)
		httputil.Error(w, http.StatusNotAcceptable, "invalid webhook signature")
		return
	}

	report, err := h.engine.AcceptInbound(r.Context(), *msg)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, inboundResponse{Success: true, FanoutReport: report})
}

// parseRoutedMessage reads the Mailgun "routed message" form, either
// urlencoded or multipart with attachment-N file parts.
func parseRoutedMessage(r *http.Request) (*distribution.InboundMessage, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if strings.HasPrefix(mediaType, "multipart/") {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		if isTooLarge(err) {
			return nil, err
		}
		return nil, malformed("parse routed message: %v", err)
	}

	form := r.PostForm
	recipient := strings.TrimSpace(form.Get("recipient"))
	if recipient == "" {
		return nil, malformed("recipient is required")
	}
	sender := form.Get("sender")
	if sender == "" {
		sender = form.Get("from")
	}

	msg := &distribution.InboundMessage{
		MessageID: form.Get("Message-Id"),
		Recipient: recipient,
		Sender:    sender,
		Subject:   form.Get("subject"),
		BodyPlain: form.Get("body-plain"),
		Fields:    map[string][]string(form),
	}
	if r.MultipartForm != nil {
		files, err := readAttachments(r.MultipartForm.File)
		if err != nil {
			return nil, err
		}
		msg.Attachments = files
	}
	return msg, nil
}

// readAttachments loads every uploaded file, ordered by Mailgun's
// attachment-N numbering.
func readAttachments(parts map[string][]*multipart.FileHeader) ([]distribution.InboundAttachment, error) {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := attachmentIndex(keys[i]), attachmentIndex(keys[j])
		if ai != aj {
			return ai < aj
		}
		return keys[i] < keys[j]
	})

	var out []distribution.InboundAttachment
	for _, k := range keys {
		for _, fh := range parts[k] {
			content, err := readPart(fh)
			if err != nil {
				return nil, fmt.Errorf("read attachment %s: %w", fh.Filename, err)
			}
			ct := fh.Header.Get("Content-Type")
			if ct == "" {
				ct = "application/octet-stream"
			}
			out = append(out, distribution.InboundAttachment{
				Filename:    fh.Filename,
				ContentType: ct,
				Content:     content,
			})
		}
	}
	return out, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// attachmentIndex returns N for "attachment-N" and a large value otherwise.
func attachmentIndex(field string) int {
	if n, err := strconv.Atoi(strings.TrimPrefix(field, "attachment-")); err == nil {
		return n
	}
	return int(^uint(0) >> 1)
}

// isTooLarge reports whether err came from the request body limit. The
// multipart reader does not always wrap it, so the message is checked too.
func isTooLarge(err error) bool {
	var tooBig *http.MaxBytesError
	return errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large")
}

// verifyMailgunSignature checks hex(HMAC-SHA256(key, timestamp+token)).
func verifyMailgunSignature(key, timestamp, token, signature string) bool {
	if timestamp == "" || token == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
