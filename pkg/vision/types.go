package vision

import (
	"fmt"
	"strings"
)

// SceneObject is one detected object in a capture.
type SceneObject struct {
	// Name is a short label, e.g. "coffee mug".
	Name string `json:"name"`

	// Position is the object's place in the frame, e.g. "left foreground".
	Position string `json:"position"`

	// DistanceMeters is the estimated distance from the camera.
	DistanceMeters float64 `json:"distance_meters"`

	// Description is free-text detail about the object.
	Description string `json:"description"`
}

// SceneDescription is the ordered list of objects visible in a capture.
type SceneDescription struct {
	Objects []SceneObject `json:"objects"`
}

// Validate rejects partially-parsed scenes rather than substituting defaults.
func (s SceneDescription) Validate() error {
	if s.Objects == nil {
		return fmt.Errorf("%w: missing objects list", ErrSchemaParse)
	}
	for i, obj := range s.Objects {
		if obj.Name == "" {
			return fmt.Errorf("%w: object %d has no name", ErrSchemaParse, i)
		}
	}
	return nil
}

// Text renders the scene as prose for injection into the conversation.
func (s SceneDescription) Text() string {
	if len(s.Objects) == 0 {
		return "Nothing notable is visible."
	}

	var b strings.Builder
	for i, obj := range s.Objects {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s, %s, about %.1fm away: %s", obj.Name, obj.Position, obj.DistanceMeters, obj.Description)
	}
	return b.String()
}

// Capture pairs the raw photo with its parsed description. The image is
// populated even when the description failed to parse, so the panel can
// still display it.
type Capture struct {
	Image []byte
	Scene SceneDescription
}

// Text renders the capture's scene as prose.
func (c *Capture) Text() string {
	return c.Scene.Text()
}

// sceneResponseFormat is the JSON schema requested from the vision endpoint.
func sceneResponseFormat() map[string]any {
	return map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   "scene_description",
			"strict": true,
			"schema": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"objects"},
				"properties": map[string]any{
					"objects": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"required":             []string{"name", "position", "distance_meters", "description"},
							"properties": map[string]any{
								"name":            map[string]any{"type": "string"},
								"position":        map[string]any{"type": "string"},
								"distance_meters": map[string]any{"type": "number"},
								"description":     map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		},
	}
}
