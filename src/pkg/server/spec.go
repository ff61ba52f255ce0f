package server

import (
	"fmt"
	"strings"
)

const openAPITemplate = `%s/{id}:
  get:
    tags:
      - %s
    summary: Fetch a processed image
    description: |
      Streams a processed image. The first successful fetch starts the
      expiry countdown; afterwards the identifier answers 404.
    parameters:
      - name: id
        in: path
        required: true
        schema:
          type: string
        description: Identifier returned by process_image
    responses:
      '200':
        description: The image bytes
        headers:
          Cache-Control:
            schema:
              type: string
            description: public, max-age=<seconds until expiry>
        content:
          image/jpeg: {}
          image/png: {}
          image/webp: {}
          image/avif: {}
          image/tiff: {}
      '404':
        description: Unknown or expired identifier
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Error'
      '500':
        description: Internal server error
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Error'
%s:
  get:
    tags:
      - %s
    summary: List registered images
    description: Diagnostic listing of every registered identifier
    responses:
      '200':
        description: Registered identifiers
        content:
          application/json:
            schema:
              type: object
              properties:
                images:
                  type: array
                  items:
                    type: string
                count:
                  type: integer
              required:
                - images
                - count
%s:
  get:
    tags:
      - %s
    summary: Health check
    responses:
      '200':
        description: Service is up
        content:
          application/json:
            schema:
              type: object
              properties:
                status:
                  type: string
                  example: ok
                timestamp:
                  type: string
                  format: date-time
              required:
                - status
                - timestamp`

// GetOpenAPISpec returns the paths object for the routes in this package,
// tagged with tag.
func GetOpenAPISpec(tag string) string {
	if tag == "" {
		return ""
	}
	artifact := strings.TrimSuffix(ArtifactPath, "/")
	return fmt.Sprintf(openAPITemplate, artifact, tag, ArtifactsPath, tag, HealthPath, tag)
}
