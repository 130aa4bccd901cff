package blob

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"
)

// Kind distinguishes learner uploads from marker feedback files.
type Kind string

const (
	KindLearner Kind = "learner"
	KindMarker  Kind = "marker"
)

// FileRef describes one relocated blob.
type FileRef struct {
	Kind      Kind
	SourceURL string
	Key       string
	Name      string
	Size      int64
}

// Downloader fetches a source file by URL.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPDownloader fetches source files over HTTP.
type HTTPDownloader struct {
	Client *http.Client
}

// NewHTTPDownloader returns a downloader with a bounded request timeout.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{Timeout: 2 * time.Minute}}
}

func (d *HTTPDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wrapError(CodeDownloadFailed, false, err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, wrapError(CodeDownloadFailed, true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, wrapError(CodeDownloadFailed, resp.StatusCode >= 500,
			fmt.Errorf("GET %s: status %d", url, resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(CodeDownloadFailed, true, err)
	}
	return data, nil
}

// Request identifies the files of one accepted record.
type Request struct {
	AttemptID    string
	AssessmentID int64
	LearnerName  string
	LearnerURLs  []string
	MarkerURLs   []string
}

// Relocator downloads each source file and re-uploads it to the destination
// store. All-or-nothing per record: on any error every blob already uploaded
// for the record is deleted best-effort before the error is surfaced.
type Relocator struct {
	Store            ObjectStore
	Download         Downloader
	Bucket           string
	SourceHostPrefix string
}

// Relocate moves a record's files and returns their descriptors and total
// byte size. URLs outside the expected source host are skipped with a log
// line, not failed.
func (r *Relocator) Relocate(ctx context.Context, req Request) ([]FileRef, int64, error) {
	var (
		refs       []FileRef
		totalBytes int64
		uploaded   []string
	)

	abort := func(err error) ([]FileRef, int64, error) {
		r.compensate(ctx, uploaded)
		return nil, 0, err
	}

	// Learner files keep their source basename; a repeated basename gets a
	// numeric suffix so two uploads never share an object key.
	learnerSeen := make(map[string]int)
	for _, url := range req.LearnerURLs {
		if !strings.HasPrefix(url, r.SourceHostPrefix) {
			log.Printf("attempt %s: skipping learner file outside source host: %s", req.AttemptID, url)
			continue
		}
		name := path.Base(url)
		learnerSeen[name]++
		if n := learnerSeen[name]; n > 1 {
			ext := path.Ext(name)
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		key := objectKey(req.AttemptID, KindLearner, name)
		size, err := r.moveOne(ctx, url, key)
		if err != nil {
			return abort(fmt.Errorf("learner file %s: %w", url, err))
		}
		uploaded = append(uploaded, key)
		refs = append(refs, FileRef{Kind: KindLearner, SourceURL: url, Key: key, Name: name, Size: size})
		totalBytes += size
	}

	markerSeq := 0
	for _, url := range req.MarkerURLs {
		if !strings.HasPrefix(url, r.SourceHostPrefix) {
			log.Printf("attempt %s: skipping marker file outside source host: %s", req.AttemptID, url)
			continue
		}
		markerSeq++
		name := markerFileName(req.AssessmentID, req.LearnerName, markerSeq, path.Ext(url))
		key := objectKey(req.AttemptID, KindMarker, name)
		size, err := r.moveOne(ctx, url, key)
		if err != nil {
			return abort(fmt.Errorf("marker file %s: %w", url, err))
		}
		uploaded = append(uploaded, key)
		refs = append(refs, FileRef{Kind: KindMarker, SourceURL: url, Key: key, Name: name, Size: size})
		totalBytes += size
	}

	return refs, totalBytes, nil
}

func (r *Relocator) moveOne(ctx context.Context, url, key string) (int64, error) {
	data, err := r.Download.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	if err := r.Store.PutObject(ctx, r.Bucket, key, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Cleanup deletes already-relocated blobs best-effort, for callers whose
// record fails after relocation succeeded (e.g. the database write).
func (r *Relocator) Cleanup(ctx context.Context, refs []FileRef) {
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Key)
	}
	r.compensate(ctx, keys)
}

// compensate deletes already-uploaded blobs best-effort. Deletion failures
// are logged, never escalated.
func (r *Relocator) compensate(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := r.Store.RemoveObject(ctx, r.Bucket, key); err != nil {
			log.Printf("compensating delete of %s failed: %v", key, err)
		}
	}
}

func objectKey(attemptID string, kind Kind, name string) string {
	return fmt.Sprintf("attempts/%s/%s/%s", attemptID, kind, name)
}

// markerFileName synthesizes a deterministic marker file name from the
// assessment id and the sanitized learner name, de-duplicated with a numeric
// suffix when the record carries more than one marker file.
func markerFileName(assessmentID int64, learnerName string, seq int, ext string) string {
	base := fmt.Sprintf("%d-%s-marker", assessmentID, sanitizeName(learnerName))
	if seq > 1 {
		base = fmt.Sprintf("%s-%d", base, seq)
	}
	return base + ext
}

// sanitizeName lowercases and reduces a learner name to [a-z0-9-].
func sanitizeName(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
