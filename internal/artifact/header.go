package artifact

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNotFound means the artifact header is absent or still pending.
	ErrNotFound = errors.New("artifact not found")

	// ErrCorrupt means the header is present but the shards do not add up to it.
	ErrCorrupt = errors.New("artifact corrupt")

	// ErrInvalidKey means the owner or name cannot address an artifact.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Kind is the content kind an artifact was derived from.
type Kind string

const (
	KindDocument   Kind = "document"
	KindTranscript Kind = "transcript"
	KindTable      Kind = "table"
)

// Valid reports whether k is a known content kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDocument, KindTranscript, KindTable:
		return true
	}
	return false
}

// Namespace separates the logical artifacts kept for one content item.
type Namespace string

const (
	// NamespaceIndex holds the serialized similarity index.
	NamespaceIndex Namespace = "artifact"
	// NamespaceSource holds the raw uploaded bytes.
	NamespaceSource Namespace = "source"
	// NamespaceTable holds the structured table blob of tabular uploads.
	NamespaceTable Namespace = "table"
)

// Status tracks the two-phase write of an artifact.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
)

// Header is the metadata record written before and after an artifact's shards.
type Header struct {
	Name        string    `json:"name"`
	ContentKind Kind      `json:"content_kind"`
	ContentType string    `json:"content_type,omitempty"`
	TotalSize   int       `json:"total_size"`
	ShardCount  int       `json:"shard_count"`
	ShardLimit  int       `json:"shard_limit"`
	Checksum    string    `json:"checksum"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key addresses one artifact of one owner.
type Key struct {
	Owner string
	Name  string
}

// String renders the key as "owner:name".
func (k Key) String() string {
	return k.Owner + ":" + k.Name
}

// Validate rejects empty components and control characters.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Owner) == "" {
		return fmt.Errorf("%w: owner is empty", ErrInvalidKey)
	}
	if strings.TrimSpace(k.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidKey)
	}
	if strings.IndexFunc(k.Owner+k.Name, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: control characters in %q", ErrInvalidKey, k.String())
	}
	return nil
}

func ownerPrefix(ns Namespace, owner string) string {
	return "owner/" + url.PathEscape(owner) + "/" + string(ns) + "/"
}

func headerPath(ns Namespace, k Key) string {
	return ownerPrefix(ns, k.Owner) + url.PathEscape(k.Name)
}

func shardPrefix(ns Namespace, k Key) string {
	return headerPath(ns, k) + "/shard/"
}

func shardPath(ns Namespace, k Key, index int) string {
	return shardPrefix(ns, k) + strconv.Itoa(index)
}
