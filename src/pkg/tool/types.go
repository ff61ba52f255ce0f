package tool

import (
	"encoding/json"

	"github.com/q-controller/imgrelay/src/pkg/transform"
)

const Name = "process_image"

type Request struct {
	ImageURL string          `json:"imageUrl"`
	Specs    *transform.Spec `json:"specs"`
}

type Response struct {
	Success           bool   `json:"success"`
	ProcessedImageURL string `json:"processedImageUrl,omitempty"`
	Error             string `json:"error,omitempty"`
}

type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

var descriptor = Descriptor{
	Name: Name,
	Description: "Download an image from a URL and process it according to specified resize, " +
		"compression, and conversion specs. Returns a temporary URL to access the processed image.",
	InputSchema: json.RawMessage(inputSchema),
}

func Describe() Descriptor {
	return descriptor
}

const inputSchema = `{
  "type": "object",
  "properties": {
    "imageUrl": {
      "type": "string",
      "description": "The URL of the image to download and process",
      "format": "uri"
    },
    "specs": {
      "type": "object",
      "description": "Image processing specifications",
      "properties": {
        "resize": {
          "type": "object",
          "description": "Resize specifications",
          "properties": {
            "width": {"type": "integer", "description": "Target width in pixels", "minimum": 1, "maximum": 10000},
            "height": {"type": "integer", "description": "Target height in pixels", "minimum": 1, "maximum": 10000},
            "fit": {
              "type": "string",
              "description": "How the image should be resized to fit the target dimensions",
              "enum": ["cover", "contain", "fill", "inside", "outside"],
              "default": "cover"
            }
          }
        },
        "compression": {
          "type": "object",
          "description": "Compression specifications",
          "properties": {
            "quality": {"type": "integer", "description": "Image quality (1-100, higher is better quality)", "minimum": 1, "maximum": 100, "default": 80},
            "progressive": {"type": "boolean", "description": "Use progressive JPEG encoding", "default": false},
            "optimizeScans": {"type": "boolean", "description": "Optimize Huffman coding tables", "default": false}
          }
        },
        "conversion": {
          "type": "object",
          "description": "Format conversion specifications",
          "properties": {
            "format": {
              "type": "string",
              "description": "Target image format",
              "enum": ["jpeg", "png", "webp", "avif", "tiff"],
              "default": "jpeg"
            }
          },
          "required": ["format"]
        }
      }
    }
  },
  "required": ["imageUrl", "specs"]
}`
