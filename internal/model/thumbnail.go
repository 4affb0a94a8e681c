package model

// ThumbnailParameters holds the normalized target size of a thumbnail.
//
// A zero value on one axis means the axis is derived from the other one
// preserving the source aspect ratio. Both zero means the source is passed
// through unchanged.
type ThumbnailParameters struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Passthrough reports whether no resize is requested.
func (p ThumbnailParameters) Passthrough() bool {
	return p.Width == 0 && p.Height == 0
}

// Limits bounds the accepted width and height of a thumbnail.
type Limits struct {
	MaxWidth  int
	MaxHeight int
}

// Normalize clamps raw width and height values into parameters.
// Negative values and values above the limits become 0.
func (l Limits) Normalize(width, height int) ThumbnailParameters {
	if width < 0 || width > l.MaxWidth {
		width = 0
	}
	if height < 0 || height > l.MaxHeight {
		height = 0
	}

	return ThumbnailParameters{Width: width, Height: height}
}

// Thumbnail is an encoded image ready to be written to a client.
type Thumbnail struct {
	Filename    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}
