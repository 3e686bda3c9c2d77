// Package gps reads position fixes from an NMEA receiver on a serial port.
package gps

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/ayusman/chilieye/internal/logger"
	"github.com/jacobsa/go-serial/serial"
)

// ErrNoFix is returned before the receiver reports a valid position.
var ErrNoFix = errors.New("no gps fix")

// Fix is the latest position reported by a GGA sentence.
type Fix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Satellites int       `json:"satellites"`
	Quality    int       `json:"fix_quality"`
	Time       time.Time `json:"timestamp"`
}

// Reader keeps the latest fix from an NMEA stream.
type Reader struct {
	src io.ReadCloser
	log *logger.Logger
	now func() time.Time

	mu      sync.RWMutex
	fix     *Fix
	lastErr error

	closeOnce sync.Once
	done      chan struct{}
}

// Open opens the serial port and returns a Reader over it. Call Start to begin reading.
func Open(port string, baudRate uint, log *logger.Logger) (*Reader, error) {
	if baudRate == 0 {
		baudRate = 9600
	}
	dev, err := serial.Open(serial.OpenOptions{
		PortName:        port,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 4,
	})
	if err != nil {
		return nil, err
	}
	return NewReader(dev, log), nil
}

// NewReader returns a Reader over src.
func NewReader(src io.ReadCloser, log *logger.Logger) *Reader {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Reader{
		src:  src,
		log:  log,
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// Start reads sentences in the background until ctx ends, the stream fails or
// Close is called.
func (r *Reader) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		br := bufio.NewReader(r.src)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := br.ReadString('\n')
			if line != "" {
				if perr := r.Update(line); perr != nil {
					r.log.Debug("skipping nmea sentence", "error", perr)
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					r.log.Warn("gps read failed", "error", err)
				}
				r.setLastError(err)
				return
			}
		}
	}()
}

// Update parses one NMEA sentence. Only GGA sentences with a valid fix change
// the position; other sentence types are ignored.
func (r *Reader) Update(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	s, err := nmea.Parse(line)
	if err != nil {
		return err
	}
	if s.DataType() != nmea.TypeGGA {
		return nil
	}
	gga := s.(nmea.GGA)

	quality, _ := strconv.Atoi(gga.FixQuality)
	if quality == 0 || (gga.Latitude == 0 && gga.Longitude == 0) {
		return nil
	}

	fix := &Fix{
		Latitude:   gga.Latitude,
		Longitude:  gga.Longitude,
		Altitude:   gga.Altitude,
		Satellites: int(gga.NumSatellites),
		Quality:    quality,
		Time:       r.now(),
	}

	r.mu.Lock()
	r.fix = fix
	r.mu.Unlock()
	return nil
}

// Fix returns the latest valid fix.
func (r *Reader) Fix() (Fix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fix == nil {
		return Fix{}, ErrNoFix
	}
	return *r.fix, nil
}

// Err returns the error that stopped the background reader, if any.
func (r *Reader) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *Reader) setLastError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}

// Done is closed when the background reader exits.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.src.Close()
	})
	return err
}
