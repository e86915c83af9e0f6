package recorder

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/b08x/omega-13/internal/errors"
)

// wavHeaderSize is the fixed RIFF+fmt+data header length written by wavFile.
const wavHeaderSize = 44

// wavFormatIEEEFloat is the WAVE format tag for 32-bit float PCM.
const wavFormatIEEEFloat = 3

// wavFile streams interleaved float32 PCM to disk. The header is written
// with placeholder sizes and patched on Close, so the writer never needs
// the final length up front. Sample writes are buffered and batched; one
// binary conversion buffer is reused for every batch.
type wavFile struct {
	f          *os.File
	w          *bufio.Writer
	sampleRate int
	channels   int
	dataBytes  uint32
	scratch    []byte
}

// createWavFile opens path for writing and emits the header.
func createWavFile(path string, sampleRate, channels int) (*wavFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("operation", "create_wav").
			Context("path", path).
			Build()
	}

	wf := &wavFile{
		f:          f,
		w:          bufio.NewWriterSize(f, 64*1024),
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := wf.writeHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return wf, nil
}

func (wf *wavFile) writeHeader() error {
	byteRate := wf.sampleRate * wf.channels * 4
	blockAlign := wf.channels * 4

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	// Sizes at offsets 4 and 40 are placeholders patched on Close.
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatIEEEFloat)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(wf.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(wf.sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], 32)
	copy(hdr[36:40], "data")

	if _, err := wf.w.Write(hdr[:]); err != nil {
		return wf.ioError(err, "write_wav_header")
	}
	return nil
}

// writeSamples appends a batch of interleaved float32 samples.
func (wf *wavFile) writeSamples(samples []float32) error {
	need := len(samples) * 4
	if cap(wf.scratch) < need {
		wf.scratch = make([]byte, need)
	}
	buf := wf.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	if _, err := wf.w.Write(buf); err != nil {
		return wf.ioError(err, "write_wav_samples")
	}
	wf.dataBytes += uint32(need)
	return nil
}

// close flushes buffered data, patches the chunk sizes, fsyncs, and closes
// the file. Safe to call after a write error; it then only releases the
// handle.
func (wf *wavFile) close(patchSizes bool) error {
	var errs []error

	if patchSizes {
		if err := wf.w.Flush(); err != nil {
			errs = append(errs, wf.ioError(err, "flush_wav"))
			patchSizes = false
		}
	}
	if patchSizes {
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], 36+wf.dataBytes)
		if _, err := wf.f.WriteAt(size[:], 4); err != nil {
			errs = append(errs, wf.ioError(err, "patch_riff_size"))
		}
		binary.LittleEndian.PutUint32(size[:], wf.dataBytes)
		if _, err := wf.f.WriteAt(size[:], 40); err != nil {
			errs = append(errs, wf.ioError(err, "patch_data_size"))
		}
		if err := wf.f.Sync(); err != nil {
			errs = append(errs, wf.ioError(err, "sync_wav"))
		}
	}
	if err := wf.f.Close(); err != nil {
		errs = append(errs, wf.ioError(err, "close_wav"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (wf *wavFile) ioError(err error, op string) error {
	if err == io.ErrShortWrite {
		err = errors.Newf("short write").Build()
	}
	return errors.New(err).
		Component("recorder").
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("path", wf.f.Name()).
		Build()
}
