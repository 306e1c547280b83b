// Package imgrec contains an image recorder used to automatically save capture results to disk.
package imgrec

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"

	"github.com/nasa-jpl/detctl/capture"
	"github.com/nasa-jpl/detctl/generichttp"
	"github.com/nasa-jpl/detctl/sdk"
)

// Recorder records capture results as FITS files with incrementing filenames
// in yyyy-mm-dd subfolders.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// root is the root path
	root string

	// prefix is the prefix for the filenames
	prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	enabled bool

	// now is replaceable in tests
	now func() time.Time
}

// New returns a recorder writing under root
func New(root, prefix string, enabled bool) *Recorder {
	return &Recorder{root: root, prefix: prefix, enabled: enabled, now: time.Now}
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	y, m, d := r.now().Date()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// incr updates the filename counter; it scans the folder to do so
func (r *Recorder) incr(dn string) error {
	files, err := os.ReadDir(dn)
	if err != nil {
		return err
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
	return nil
}

// Save writes the frames of a finished capture to the next file in today's
// folder.  It does nothing if the recorder is disabled or there are no
// frames.  It satisfies detector.ResultSink.
func (r *Recorder) Save(detector uuid.UUID, report capture.Report, frames []sdk.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled || len(frames) == 0 {
		return nil
	}
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return err
	}
	if err := r.incr(fldr); err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	err = WriteFits(buf, metadata(detector, report, frames), frames)
	if err != nil {
		return err
	}
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.prefix, r.counter))
	return os.WriteFile(fn, buf.Bytes(), 0666)
}

func metadata(detector uuid.UUID, report capture.Report, frames []sdk.Frame) []fitsio.Card {
	first := frames[0]
	return []fitsio.Card{
		{Name: "DETECTOR", Value: detector.String()},
		{Name: "CAPTURE", Value: report.ID.String()},
		{Name: "MODE", Value: report.Name},
		{Name: "STATUS", Value: report.Status.String()},
		{Name: "EXPTIME", Value: first.Exposure.Seconds(), Unit: "s"},
		{Name: "FRAMENUM", Value: first.FrameNumber, Comment: "detector frame counter of the first frame"},
		{Name: "DATE-OBS", Value: first.Timestamp.UTC().Format("2006-01-02T15:04:05.000")},
	}
}

// Root returns the root folder
func (r *Recorder) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// SetRoot changes the root folder, creating today's folder under it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// Prefix returns the filename prefix
func (r *Recorder) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// SetPrefix changes the filename prefix
func (r *Recorder) SetPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = prefix
	r.counter = 0
}

// Enabled is true if Save writes files
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled turns recording on or off
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = b
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix
// and /autowrite/enabled to the HTTPer which manipulate the recorder
func (r *Recorder) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: "POST", Path: "/autowrite/root"}] = generichttp.SetString(r.SetRoot)
	rt[generichttp.MethodPath{Method: "GET", Path: "/autowrite/root"}] = generichttp.GetString(func() (string, error) {
		return r.Root(), nil
	})
	rt[generichttp.MethodPath{Method: "POST", Path: "/autowrite/prefix"}] = generichttp.SetString(func(s string) error {
		r.SetPrefix(s)
		return nil
	})
	rt[generichttp.MethodPath{Method: "GET", Path: "/autowrite/prefix"}] = generichttp.GetString(func() (string, error) {
		return r.Prefix(), nil
	})
	rt[generichttp.MethodPath{Method: "POST", Path: "/autowrite/enabled"}] = generichttp.SetBool(func(b bool) error {
		r.SetEnabled(b)
		return nil
	})
	rt[generichttp.MethodPath{Method: "GET", Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) {
		return r.Enabled(), nil
	})
}
