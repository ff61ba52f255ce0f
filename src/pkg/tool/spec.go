package tool

import (
	"fmt"
	"strings"
)

const openAPITemplate = `%s/%s:
  post:
    tags:
      - %s
    summary: Process an image
    description: |
      Downloads imageUrl, applies specs and returns a temporary URL for the
      result. Processing failures are reported with success false.
    requestBody:
      required: true
      content:
        application/json:
          schema:
            $ref: '#/components/schemas/ProcessImageRequest'
    responses:
      '200':
        description: Processing result
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/ProcessImageResponse'
      '400':
        description: Request body is not valid JSON
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/ProcessImageResponse'
%s:
  get:
    tags:
      - %s
    summary: List tools
    description: Lists the available tools with their input schemas
    responses:
      '200':
        description: Tool descriptors
        content:
          application/json:
            schema:
              type: object
              properties:
                tools:
                  type: array
                  items:
                    type: object
                    properties:
                      name:
                        type: string
                      description:
                        type: string
                      inputSchema:
                        type: object`

func GetOpenAPISpec(rootPath, tag string) string {
	if rootPath == "" || tag == "" {
		return ""
	}

	rootPath = strings.TrimSuffix(rootPath, "/")

	return fmt.Sprintf(openAPITemplate, rootPath, Name, tag, rootPath, tag)
}
