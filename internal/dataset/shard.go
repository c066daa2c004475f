package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Record is one image read from a shard: its pose and, when ground truth is
// present, its rays.
type Record struct {
	Key  string
	Pose *mat.Dense
	Rays *mat.Dense
}

var (
	// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
	ErrPendingOverflow = errors.New("shard: pending pair buffer exceeded")
	// ErrMalformedRecord reports a pose or ray payload that cannot be decoded.
	ErrMalformedRecord = errors.New("shard: malformed record")
	// ErrShapeMismatch reports tables whose shapes disagree.
	ErrShapeMismatch = errors.New("dataset: shape mismatch")
)

const (
	defaultPendingCap = 1024

	poseExt = ".pose"
	raysExt = ".rays"
)

// StreamShard streams paired records from the shard at path. Entries are
// paired by key once both the pose and the rays arrived; shards that carry no
// rays at all yield pose-only records when the archive ends. pendingCap bounds
// the keys waiting for a partner once the shard is known to carry rays.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Record, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		if err := readShard(ctx, f, pendingCap, out); err != nil {
			errCh <- fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}()

	return out, errCh
}

func readShard(ctx context.Context, r io.Reader, pendingCap int, out chan<- Record) error {
	tr := tar.NewReader(bufio.NewReader(r))
	pending := make(map[string]*Record)
	var order []string
	sawRays := false

	emit := func(rec Record) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- rec:
			return nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, filepath.Ext(name))

		if ext != poseExt && ext != raysExt {
			continue
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		rec := pending[key]
		if rec == nil {
			rec = &Record{Key: key}
			pending[key] = rec
			order = append(order, key)
		}
		switch ext {
		case poseExt:
			rec.Pose, err = decodePose(payload)
		case raysExt:
			rec.Rays, err = decodeRays(payload)
			sawRays = true
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		if sawRays && len(pending) > pendingCap {
			return ErrPendingOverflow
		}

		if rec.Pose != nil && rec.Rays != nil {
			delete(pending, key)
			if err := emit(*rec); err != nil {
				return err
			}
		}
	}

	if len(pending) == 0 {
		return nil
	}
	if sawRays {
		return fmt.Errorf("%w: %d records incomplete", ErrMalformedRecord, len(pending))
	}
	for _, key := range order {
		rec, ok := pending[key]
		if !ok {
			continue
		}
		if rec.Pose == nil {
			return fmt.Errorf("%w: %s has no pose", ErrMalformedRecord, key)
		}
		if err := emit(*rec); err != nil {
			return err
		}
	}
	return nil
}

// decodePose parses 12 (3x4) or 16 (4x4) whitespace separated floats, row major.
func decodePose(payload []byte) (*mat.Dense, error) {
	fields := strings.Fields(string(payload))
	if len(fields) != 12 && len(fields) != 16 {
		return nil, fmt.Errorf("%w: pose has %d values", ErrMalformedRecord, len(fields))
	}
	vals := make([]float64, len(fields))
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: pose value %d: %v", ErrMalformedRecord, i, err)
		}
		vals[i] = v
	}
	return mat.NewDense(3, 4, vals[:12]), nil
}

// decodeRays parses a little-endian uint32 pixel count, uint32 channel count
// and pixels*channels float32 values.
func decodeRays(payload []byte) (*mat.Dense, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: rays header truncated", ErrMalformedRecord)
	}
	pixels := int(binary.LittleEndian.Uint32(payload[0:4]))
	channels := int(binary.LittleEndian.Uint32(payload[4:8]))
	if pixels == 0 || (channels != 3 && channels != 4) {
		return nil, fmt.Errorf("%w: rays shape %dx%d", ErrMalformedRecord, pixels, channels)
	}
	body := payload[8:]
	if len(body) != pixels*channels*4 {
		return nil, fmt.Errorf("%w: rays body %d bytes, want %d", ErrMalformedRecord, len(body), pixels*channels*4)
	}
	vals := make([]float64, pixels*channels)
	for i := range vals {
		vals[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:])))
	}
	return mat.NewDense(pixels, channels, vals), nil
}

func encodePose(pose *mat.Dense) []byte {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(pose.At(i, j), 'g', -1, 64))
		}
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func encodeRays(rays *mat.Dense) []byte {
	r, c := rays.Dims()
	buf := make([]byte, 8+r*c*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c))
	off := 8
	for i := 0; i < r; i++ {
		for _, v := range rays.RawRowView(i) {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
			off += 4
		}
	}
	return buf
}

// WriteShard encodes records into w using the layout StreamShard reads.
func WriteShard(w io.Writer, records []Record) error {
	tw := tar.NewWriter(w)
	for _, rec := range records {
		if rec.Pose == nil {
			return fmt.Errorf("%w: %s has no pose", ErrMalformedRecord, rec.Key)
		}
		if err := writeEntry(tw, rec.Key+poseExt, encodePose(rec.Pose)); err != nil {
			return err
		}
		if rec.Rays == nil {
			continue
		}
		if err := writeEntry(tw, rec.Key+raysExt, encodeRays(rec.Rays)); err != nil {
			return err
		}
	}
	return tw.Close()
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.Copy(tw, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteShardFile writes records to a new shard file at path.
func WriteShardFile(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	if err := WriteShard(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
