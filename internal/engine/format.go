package engine

import "github.com/disintegration/imaging"

// Format identifies an image container format.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "JPEG"
	FormatPNG     Format = "PNG"
	FormatGIF     Format = "GIF"
	FormatTIFF    Format = "TIFF"
	FormatBMP     Format = "BMP"
	FormatWEBP    Format = "WEBP"
)

var mimeTypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatGIF:  "image/gif",
	FormatTIFF: "image/tiff",
	FormatBMP:  "image/bmp",
	FormatWEBP: "image/webp",
}

// MimeFor maps a format to its MIME type. It returns "" for unknown formats.
func MimeFor(f Format) string {
	return mimeTypes[f]
}

func formatFromMIME(mime string) Format {
	switch mime {
	case "image/jpeg":
		return FormatJPEG
	case "image/png", "image/vnd.mozilla.apng":
		return FormatPNG
	case "image/gif":
		return FormatGIF
	case "image/tiff":
		return FormatTIFF
	case "image/bmp", "image/x-ms-bmp":
		return FormatBMP
	case "image/webp":
		return FormatWEBP
	default:
		return FormatUnknown
	}
}

func (f Format) imaging() (imaging.Format, bool) {
	switch f {
	case FormatJPEG:
		return imaging.JPEG, true
	case FormatPNG:
		return imaging.PNG, true
	case FormatGIF:
		return imaging.GIF, true
	case FormatTIFF:
		return imaging.TIFF, true
	case FormatBMP:
		return imaging.BMP, true
	default:
		return 0, false
	}
}
