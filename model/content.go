package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BlockKind tags a ContentBlock variant. The string values are the wire names
// used in persisted JSON.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one part of a multimodal message. The set of variants is
// closed: only the four block types in this package implement it.
type ContentBlock interface {
	Kind() BlockKind
	isContentBlock()
}

// TextBlock is plain text.
type TextBlock struct {
	Text string
}

// ImageBlock carries an inline image. Data is standard base64 without a data: prefix.
type ImageBlock struct {
	MediaType string
	Data      string
}

// ToolUseBlock is a model's request to run a tool.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock answers the ToolUseBlock with the same ID.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (TextBlock) Kind() BlockKind       { return BlockText }
func (ImageBlock) Kind() BlockKind      { return BlockImage }
func (ToolUseBlock) Kind() BlockKind    { return BlockToolUse }
func (ToolResultBlock) Kind() BlockKind { return BlockToolResult }

func (TextBlock) isContentBlock()       {}
func (ImageBlock) isContentBlock()      {}
func (ToolUseBlock) isContentBlock()    {}
func (ToolResultBlock) isContentBlock() {}

// Content is either a plain string or a list of blocks. A nil Blocks slice
// selects the string form.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// TextContent returns string-form content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// BlockContent returns block-form content. The slice is copied.
func BlockContent(blocks ...ContentBlock) Content {
	cp := make([]ContentBlock, len(blocks))
	copy(cp, blocks)
	return Content{Blocks: cp}
}

// IsText reports whether c uses the string form.
func (c Content) IsText() bool {
	return c.Blocks == nil
}

// AsBlocks returns the content as blocks. String content becomes a single
// TextBlock, or no blocks when the string is empty.
func (c Content) AsBlocks() []ContentBlock {
	if !c.IsText() {
		return c.Blocks
	}
	if c.Text == "" {
		return nil
	}
	return []ContentBlock{TextBlock{Text: c.Text}}
}

// PlainText concatenates every text block, separated by blank lines.
func (c Content) PlainText() string {
	if c.IsText() {
		return c.Text
	}
	var parts []string
	for _, b := range c.Blocks {
		if t, ok := b.(TextBlock); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Images returns the image blocks in order.
func (c Content) Images() []ImageBlock {
	var out []ImageBlock
	for _, b := range c.Blocks {
		if img, ok := b.(ImageBlock); ok {
			out = append(out, img)
		}
	}
	return out
}

type wireBlock struct {
	Type      BlockKind      `json:"type"`
	Text      string         `json:"text,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	Data      string         `json:"data,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

func toWire(b ContentBlock) wireBlock {
	switch v := b.(type) {
	case TextBlock:
		return wireBlock{Type: BlockText, Text: v.Text}
	case ImageBlock:
		return wireBlock{Type: BlockImage, MediaType: v.MediaType, Data: v.Data}
	case ToolUseBlock:
		return wireBlock{Type: BlockToolUse, ID: v.ID, Name: v.Name, Input: v.Input}
	case ToolResultBlock:
		return wireBlock{Type: BlockToolResult, ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError}
	}
	panic(fmt.Sprintf("model: unhandled content block %T", b))
}

func fromWire(w wireBlock) (ContentBlock, error) {
	switch w.Type {
	case BlockText:
		return TextBlock{Text: w.Text}, nil
	case BlockImage:
		return ImageBlock{MediaType: w.MediaType, Data: w.Data}, nil
	case BlockToolUse:
		return ToolUseBlock{ID: w.ID, Name: w.Name, Input: w.Input}, nil
	case BlockToolResult:
		return ToolResultBlock{ToolUseID: w.ToolUseID, Content: w.Content, IsError: w.IsError}, nil
	}
	return nil, fmt.Errorf("unknown content block type %q", w.Type)
}

// MarshalJSON encodes string content as a JSON string and block content as
// an array of tagged objects.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsText() {
		return json.Marshal(c.Text)
	}
	wire := make([]wireBlock, len(c.Blocks))
	for i, b := range c.Blocks {
		wire[i] = toWire(b)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts either encoding produced by MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{Text: s}
		return nil
	}
	var wire []wireBlock
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("content must be a string or block array: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(wire))
	for _, w := range wire {
		b, err := fromWire(w)
		if err != nil {
			return err
		}
		blocks = append(blocks, b)
	}
	*c = Content{Blocks: blocks}
	return nil
}
