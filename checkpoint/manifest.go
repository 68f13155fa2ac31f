package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chaste10ve/person-search/checkpoint/store"
)

const (
	// CurrentFileName is the blob holding the name of the live manifest.
	CurrentFileName = "CURRENT"

	// ManifestPrefix prefixes versioned manifest blobs.
	ManifestPrefix = "MANIFEST-"

	// BlobPrefix prefixes checkpoint payload blobs.
	BlobPrefix = "ck/"
)

// ErrNoCheckpoint is returned by Latest when nothing has been published.
var ErrNoCheckpoint = errors.New("no checkpoint published")

// Manifest describes one published checkpoint. It is stored as JSON next
// to the checkpoint blob and referenced by the CURRENT pointer.
type Manifest struct {
	Version      int    `json:"version"`
	ID           uint64 `json:"id"`
	Blob         string `json:"blob"`
	Dataset      string `json:"dataset"`
	Backbone     string `json:"backbone"`
	EmbeddingDim int    `json:"embedding_dim"`
	Step         uint64 `json:"step"`
	CreatedUnix  int64  `json:"created_unix"`
}

func manifestName(id uint64) string {
	return fmt.Sprintf("%s%016d", ManifestPrefix, id)
}

func blobName(id uint64) string {
	return fmt.Sprintf("%s%016d.psck", BlobPrefix, id)
}

// Publish encodes the checkpoint and commits it to the store.
//
// Write order matters: blob first, then manifest, then the CURRENT pointer.
// A crash between any two steps leaves garbage blobs behind but never a
// CURRENT pointer at incomplete data. Stores with an atomic pointer (the
// DynamoDB commit store) additionally reject concurrent publishers.
func Publish(ctx context.Context, st store.Store, ck *Checkpoint, codec Codec) (*Manifest, error) {
	prev, err := latestManifest(ctx, st)
	if err != nil && !errors.Is(err, ErrNoCheckpoint) {
		return nil, err
	}
	var id uint64 = 1
	if prev != nil {
		id = prev.ID + 1
	}

	data, err := Encode(ck, codec)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:      formatVersion,
		ID:           id,
		Blob:         blobName(id),
		Dataset:      ck.Dataset,
		Backbone:     ck.Backbone,
		EmbeddingDim: ck.EmbeddingDim,
		Step:         ck.Step,
		CreatedUnix:  time.Now().Unix(),
	}
	manifestData, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := st.Put(ctx, m.Blob, data); err != nil {
		return nil, fmt.Errorf("write checkpoint blob: %w", err)
	}
	if err := st.Put(ctx, manifestName(id), manifestData); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := st.Put(ctx, CurrentFileName, []byte(manifestName(id))); err != nil {
		return nil, fmt.Errorf("commit current pointer: %w", err)
	}
	return m, nil
}

// Latest loads the most recently published checkpoint.
func Latest(ctx context.Context, st store.Store) (*Checkpoint, *Manifest, error) {
	m, err := latestManifest(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	data, err := st.Get(ctx, m.Blob)
	if err != nil {
		return nil, nil, fmt.Errorf("read checkpoint blob %s: %w", m.Blob, err)
	}
	ck, err := Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode checkpoint %s: %w", m.Blob, err)
	}
	return ck, m, nil
}

func latestManifest(ctx context.Context, st store.Store) (*Manifest, error) {
	cur, err := st.Get(ctx, CurrentFileName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read current pointer: %w", err)
	}
	name := strings.TrimSpace(string(cur))
	if !strings.HasPrefix(name, ManifestPrefix) {
		return nil, fmt.Errorf("current pointer names %q, not a manifest", name)
	}
	data, err := st.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", name, err)
	}
	return &m, nil
}
