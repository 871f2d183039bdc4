package tools

import (
	"fmt"
	"strings"
)

type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeLink      MessageType = "link"
	MessageTypeImage     MessageType = "image"
	MessageTypeImageLink MessageType = "image_link"
	MessageTypeBlob      MessageType = "blob"
)

// InvokeMessage is one element of a tool's raw output.
//
// Text and link messages carry their payload in Message. Image link messages carry
// the image URL in Message. Image and blob messages carry bytes in Blob together with
// their MimeType; SaveAs optionally names the variable the stored file is bound to.
type InvokeMessage struct {
	Type     MessageType    `json:"type"`
	Message  string         `json:"message,omitempty"`
	Blob     []byte         `json:"-"`
	MimeType string         `json:"mime_type,omitempty"`
	SaveAs   string         `json:"save_as,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

func TextMessage(text string) InvokeMessage {
	return InvokeMessage{Type: MessageTypeText, Message: text}
}

func LinkMessage(url string) InvokeMessage {
	return InvokeMessage{Type: MessageTypeLink, Message: url}
}

func ImageLinkMessage(url string, saveAs string) InvokeMessage {
	return InvokeMessage{Type: MessageTypeImageLink, Message: url, SaveAs: saveAs}
}

func ImageMessage(data []byte, mimeType string, saveAs string) InvokeMessage {
	return InvokeMessage{Type: MessageTypeImage, Blob: data, MimeType: mimeType, SaveAs: saveAs}
}

func BlobMessage(data []byte, mimeType string, saveAs string) InvokeMessage {
	return InvokeMessage{Type: MessageTypeBlob, Blob: data, MimeType: mimeType, SaveAs: saveAs}
}

// IsBinary reports whether the message produces a file artifact.
func (m InvokeMessage) IsBinary() bool {
	switch m.Type {
	case MessageTypeImage, MessageTypeImageLink, MessageTypeBlob:
		return true
	case MessageTypeText, MessageTypeLink:
		return false
	}
	return false
}

const imageObservation = "image has been created and sent to user already, you should tell user to check it now."

func linkObservation(url string) string {
	return fmt.Sprintf("result link: %s. please tell user to check it.", url)
}

// observation renders a model friendly observation for transformed tool output.
// Binary messages must already have been replaced by links to their stored files.
func observation(msgs []InvokeMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case MessageTypeText:
			parts = append(parts, m.Message)
		case MessageTypeLink:
			parts = append(parts, linkObservation(m.Message))
		case MessageTypeImage, MessageTypeImageLink:
			parts = append(parts, imageObservation)
		case MessageTypeBlob:
			parts = append(parts, linkObservation(m.Message))
		default:
			parts = append(parts, m.Message)
		}
	}
	return strings.Join(parts, "\n")
}

func isImageMimeType(m string) bool {
	return strings.HasPrefix(m, "image/")
}
