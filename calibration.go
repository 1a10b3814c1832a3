package adaptive

import (
	"bytes"
	"context"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/renameio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CodecPerf is the expected behaviour of one codec: output/input size
// ratio and throughput.
type CodecPerf struct {
	RatioFactor float64 `cbor:"1,keyasint" json:"ratio_factor" yaml:"ratio_factor"`
	SpeedMBps   float64 `cbor:"2,keyasint" json:"speed_mbps" yaml:"speed_mbps"`
}

// CalibrationTable is an immutable, versioned snapshot of codec
// performance. Updates return a new snapshot.
type CalibrationTable struct {
	version uint64
	entries map[CodecID]CodecPerf
}

// DefaultCalibration returns the static baseline, version 1.
func DefaultCalibration() *CalibrationTable {
	return &CalibrationTable{
		version: 1,
		entries: map[CodecID]CodecPerf{
			Codec7zip:   {RatioFactor: 0.35, SpeedMBps: 10},
			CodecZstd:   {RatioFactor: 0.55, SpeedMBps: 70},
			CodecPaq:    {RatioFactor: 0.15, SpeedMBps: 0.4},
			CodecWebP:   {RatioFactor: 0.60, SpeedMBps: 25},
			CodecFFmpeg: {RatioFactor: 0.70, SpeedMBps: 15},
		},
	}
}

// Version increases by one with every derived snapshot.
func (t *CalibrationTable) Version() uint64 {
	return t.version
}

// Lookup returns the entry for id.
func (t *CalibrationTable) Lookup(id CodecID) (CodecPerf, bool) {
	perf, ok := t.entries[id]
	return perf, ok
}

// Codecs lists the calibrated codecs in sorted order.
func (t *CalibrationTable) Codecs() []CodecID {
	ids := make([]CodecID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// With returns a new snapshot with the given entries replaced.
func (t *CalibrationTable) With(updates map[CodecID]CodecPerf) *CalibrationTable {
	next := &CalibrationTable{
		version: t.version + 1,
		entries: make(map[CodecID]CodecPerf, len(t.entries)+len(updates)),
	}
	for id, perf := range t.entries {
		next.entries[id] = perf
	}
	for id, perf := range updates {
		next.entries[id] = perf
	}
	return next
}

// calibrationFile is the on-disk form of a snapshot.
type calibrationFile struct {
	Version uint64               `cbor:"1,keyasint"`
	Entries map[string]CodecPerf `cbor:"2,keyasint"`
}

var calibrationEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("adaptive: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// MarshalCBOR encodes the snapshot deterministically.
func (t *CalibrationTable) MarshalCBOR() ([]byte, error) {
	f := calibrationFile{Version: t.version, Entries: make(map[string]CodecPerf, len(t.entries))}
	for id, perf := range t.entries {
		f.Entries[string(id)] = perf
	}
	return calibrationEncMode.Marshal(f)
}

// UnmarshalCBOR decodes a snapshot written by MarshalCBOR.
func (t *CalibrationTable) UnmarshalCBOR(data []byte) error {
	var f calibrationFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return err
	}
	t.version = f.Version
	t.entries = make(map[CodecID]CodecPerf, len(f.Entries))
	for id, perf := range f.Entries {
		t.entries[CodecID(id)] = perf
	}
	return nil
}

// SaveCalibration atomically writes the snapshot to path.
func SaveCalibration(path string, t *CalibrationTable) error {
	data, err := t.MarshalCBOR()
	if err != nil {
		return errors.Wrap(err, "encoding calibration")
	}
	return errors.Wrapf(renameio.WriteFile(path, data, 0644), "writing %s", path)
}

// LoadCalibration reads a snapshot written by SaveCalibration.
func LoadCalibration(fsys FileSystem, path string) (*CalibrationTable, error) {
	f, err := openRead(fsys, path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	t := new(CalibrationTable)
	if err := t.UnmarshalCBOR(buf.Bytes()); err != nil {
		return nil, errors.Wrapf(err, "decoding calibration %s", path)
	}
	return t, nil
}

// CalibrationStore holds the current snapshot. Readers always see a
// complete snapshot; updates replace it whole.
type CalibrationStore struct {
	current atomic.Pointer[CalibrationTable]
}

// NewCalibrationStore creates a store holding t.
func NewCalibrationStore(t *CalibrationTable) *CalibrationStore {
	s := &CalibrationStore{}
	if t == nil {
		t = DefaultCalibration()
	}
	s.current.Store(t)
	return s
}

// Load returns the current snapshot.
func (s *CalibrationStore) Load() *CalibrationTable {
	return s.current.Load()
}

// Store replaces the current snapshot. The last writer wins.
func (s *CalibrationStore) Store(t *CalibrationTable) {
	s.current.Store(t)
}

// Refresh calibrates in the background and swaps in the result on
// success. The returned channel receives the outcome and is then closed.
func (s *CalibrationStore) Refresh(ctx context.Context, c *Calibrator) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		next, err := c.Calibrate(ctx, s.Load())
		if err == nil {
			s.Store(next)
		}
		done <- err
	}()
	return done
}

// Probe maps a DecisionEngine codec to the adapter that measures it.
type Probe struct {
	ID    CodecID
	Codec string
	Level Level
}

// DefaultProbes measures the codecs that have in-process adapters.
func DefaultProbes() []Probe {
	return []Probe{
		{ID: CodecZstd, Codec: "zstd", Level: LevelFast},
		{ID: Codec7zip, Codec: "xz", Level: LevelMax},
	}
}

// calibrationPayloadSize is 1 MiB of noise followed by 1 MiB of one byte.
const calibrationPayloadSize = 2 * miB

// CalibrationPayload returns the synthetic benchmark input.
func CalibrationPayload(seed uint64) []byte {
	payload := make([]byte, calibrationPayloadSize)
	var key [32]byte
	for i := range 8 {
		key[i] = byte(seed >> (8 * i))
	}
	rng := rand.NewChaCha8(key)
	_, _ = rng.Read(payload[:calibrationPayloadSize/2])
	for i := calibrationPayloadSize / 2; i < calibrationPayloadSize; i++ {
		payload[i] = 'A'
	}
	return payload
}

// Calibrator measures codec throughput on the synthetic payload.
type Calibrator struct {
	Codecs *CodecSet
	Probes []Probe

	// Per-probe bound; zero means DefaultCodecTimeout
	Timeout time.Duration

	// Now is the clock; nil means time.Now
	Now func() time.Time

	Logger logrus.FieldLogger
}

// NewCalibrator creates a calibrator with the default probes.
func NewCalibrator(codecs *CodecSet, logger logrus.FieldLogger) *Calibrator {
	return &Calibrator{Codecs: codecs, Probes: DefaultProbes(), Logger: logger}
}

// Calibrate measures every probe and returns base with the measured speeds.
// Probes whose codec is missing or fails keep their previous entry. Only a
// cancelled ctx is an error.
func (c *Calibrator) Calibrate(ctx context.Context, base *CalibrationTable) (*CalibrationTable, error) {
	if base == nil {
		base = DefaultCalibration()
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCodecTimeout
	}
	log := c.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	payload := CalibrationPayload(1)
	payloadMB := float64(len(payload)) / miB
	updates := make(map[CodecID]CodecPerf)

	for _, p := range c.Probes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		codec, ok := c.Codecs.Lookup(p.Codec)
		if !ok {
			log.WithField("algo", p.Codec).Debug("calibration probe has no codec")
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		start := now()
		_, _, err := codec.Compress(probeCtx, payload, p.Level)
		elapsed := now().Sub(start).Seconds()
		cancel()
		if err != nil {
			log.WithError(err).WithField("algo", p.Codec).Warn("calibration probe failed")
			continue
		}

		perf, ok := base.Lookup(p.ID)
		if !ok {
			perf = CodecPerf{RatioFactor: 1}
		}
		perf.SpeedMBps = payloadMB / max(elapsed, 0.001)
		updates[p.ID] = perf
		log.WithField("algo", p.Codec).Debugf("calibrated %s at %.1f MB/s", p.ID, perf.SpeedMBps)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return base.With(updates), nil
}
