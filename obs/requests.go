package obs

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
)

// SetInputSettings writes settings onto an input; overlay=true merges
// with the existing settings instead of replacing them.
func (c *Client) SetInputSettings(ctx context.Context, inputName string, settings map[string]any, overlay bool) error {
	_, err := c.Call(ctx, "SetInputSettings", map[string]any{
		"inputName":     inputName,
		"inputSettings": settings,
		"overlay":       overlay,
	})
	return err
}

// GetInputSettings reads the current settings of an input.
func (c *Client) GetInputSettings(ctx context.Context, inputName string) (map[string]any, error) {
	raw, err := c.Call(ctx, "GetInputSettings", map[string]any{"inputName": inputName})
	if err != nil {
		return nil, err
	}
	var out struct {
		InputSettings map[string]any `json:"inputSettings"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode GetInputSettings: %w", err)
	}
	return out.InputSettings, nil
}

// GetSceneItemId resolves a source name within a scene to its item id.
func (c *Client) GetSceneItemId(ctx context.Context, sceneName, sourceName string) (int, error) {
	raw, err := c.Call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  sceneName,
		"sourceName": sourceName,
	})
	if err != nil {
		return 0, err
	}
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode GetSceneItemId: %w", err)
	}
	return out.SceneItemID, nil
}

// SetSceneItemEnabled shows or hides a scene item.
func (c *Client) SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error {
	_, err := c.Call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        sceneName,
		"sceneItemId":      sceneItemID,
		"sceneItemEnabled": enabled,
	})
	return err
}

// SceneItem is one entry of a group's item list.
type SceneItem struct {
	SceneItemID int    `json:"sceneItemId"`
	SourceName  string `json:"sourceName"`
	Enabled     bool   `json:"sceneItemEnabled"`
}

// GetGroupSceneItemList lists the items of a group scene.
func (c *Client) GetGroupSceneItemList(ctx context.Context, sceneName string) ([]SceneItem, error) {
	raw, err := c.Call(ctx, "GetGroupSceneItemList", map[string]any{"sceneName": sceneName})
	if err != nil {
		return nil, err
	}
	var out struct {
		SceneItems []SceneItem `json:"sceneItems"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode GetGroupSceneItemList: %w", err)
	}
	return out.SceneItems, nil
}

// GetSourceFilter reads one filter on a source.
func (c *Client) GetSourceFilter(ctx context.Context, sourceName, filterName string) (map[string]any, error) {
	raw, err := c.Call(ctx, "GetSourceFilter", map[string]any{
		"sourceName": sourceName,
		"filterName": filterName,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		FilterSettings map[string]any `json:"filterSettings"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode GetSourceFilter: %w", err)
	}
	return out.FilterSettings, nil
}

// SetSourceFilter updates a filter's settings.
func (c *Client) SetSourceFilter(ctx context.Context, sourceName, filterName string, settings map[string]any) error {
	_, err := c.Call(ctx, "SetSourceFilter", map[string]any{
		"sourceName":     sourceName,
		"filterName":     filterName,
		"filterSettings": settings,
	})
	return err
}

// SetSourceFilterEnabled toggles a filter on a source.
func (c *Client) SetSourceFilterEnabled(ctx context.Context, sourceName, filterName string, enabled bool) error {
	_, err := c.Call(ctx, "SetSourceFilterEnabled", map[string]any{
		"sourceName":    sourceName,
		"filterName":    filterName,
		"filterEnabled": enabled,
	})
	return err
}
