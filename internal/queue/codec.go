package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressedMagic prefixes zstd-compressed envelopes. JSON envelopes always
// start with '{' so the two never collide.
var compressedMagic = []byte("NQZ1")

// DecodeFunc rebuilds a job from the envelope's job field
type DecodeFunc func(data json.RawMessage) (Job, error)

// envelope is the wire format of a queued job
type envelope struct {
	Type string          `json:"type"`
	Job  json.RawMessage `json:"job"`
}

// Codec serializes jobs into message payloads
type Codec struct {
	threshold int

	mu       sync.RWMutex
	decoders map[string]DecodeFunc

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec compressing payloads larger than threshold bytes.
// A threshold <= 0 disables compression.
func NewCodec(threshold int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{
		threshold: threshold,
		decoders:  make(map[string]DecodeFunc),
		encoder:   enc,
		decoder:   dec,
	}, nil
}

// Close releases compression resources
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

// Register binds a job type to its decoder
func (c *Codec) Register(jobType string, decode DecodeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[jobType] = decode
}

// Encode serializes a job into an envelope, compressing large payloads
func (c *Codec) Encode(job Job) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", job.Identifier(), err)
	}
	payload, err := json.Marshal(envelope{Type: job.Type(), Job: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	if c.threshold <= 0 || len(payload) <= c.threshold {
		return payload, nil
	}

	compressed := make([]byte, 0, len(compressedMagic)+len(payload)/2)
	compressed = append(compressed, compressedMagic...)
	return c.encoder.EncodeAll(payload, compressed), nil
}

// Unwrap returns the plain JSON envelope of a payload
func (c *Codec) Unwrap(payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(payload, compressedMagic) {
		return payload, nil
	}
	plain, err := c.decoder.DecodeAll(payload[len(compressedMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return plain, nil
}

// Decode rebuilds a job from a payload
func (c *Codec) Decode(payload []byte) (Job, error) {
	plain, err := c.Unwrap(payload)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("invalid job envelope: %w", err)
	}

	c.mu.RLock()
	decode, ok := c.decoders[env.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder registered for job type %q", env.Type)
	}
	return decode(env.Job)
}
