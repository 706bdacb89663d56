package catalog

import (
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// ImageMeta is the EXIF subset stored in a record's meta column.
type ImageMeta struct {
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	CameraMake  string     `json:"cameraMake,omitempty"`
	CameraModel string     `json:"cameraModel,omitempty"`
	DateTaken   *time.Time `json:"dateTaken,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
}

// ExtractImageMeta reads EXIF metadata from an image reader. An image
// without EXIF yields nil, nil: absence of metadata is not an error.
func ExtractImageMeta(r io.Reader) (*ImageMeta, error) {
	x, err := exif.Decode(r)
	if err != nil {
		return nil, nil
	}

	m := &ImageMeta{}

	m.CameraMake = tagString(x, exif.Make)
	m.CameraModel = tagString(x, exif.Model)

	if dt, err := x.DateTime(); err == nil {
		m.DateTaken = &dt
	}

	if lat, lon, err := x.LatLong(); err == nil {
		if !math.IsNaN(lat) && !math.IsNaN(lon) {
			m.Latitude = &lat
			m.Longitude = &lon
		}
	}

	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			m.Orientation = v
		}
	}

	if pw, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := pw.Int(0); err == nil {
			m.Width = v
		}
	}
	if ph, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := ph.Int(0); err == nil {
			m.Height = v
		}
	}

	return m, nil
}

// JSON serializes the metadata for the jsonb meta column.
func (m *ImageMeta) JSON() json.RawMessage {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
