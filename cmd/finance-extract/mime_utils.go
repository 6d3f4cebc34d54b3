package main

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
)

// extractTextFromMessage extracts the text content from an email message
// For multipart messages, it tries to find text/plain parts
func extractTextFromMessage(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")

	// If it's not a multipart message, just return the body
	if !strings.Contains(strings.ToLower(contentType), "multipart/") {
		bodyBytes, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(bodyBytes), nil
	}

	// Parse the Content-Type header to get the boundary
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		bodyBytes, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(bodyBytes), nil
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		bodyBytes, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(bodyBytes), nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		bodyBytes, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(bodyBytes), nil
	}

	mr := multipart.NewReader(msg.Body, boundary)

	var textContent bytes.Buffer
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if textContent.Len() > 0 {
				return textContent.String(), nil
			}
			bodyBytes, err := io.ReadAll(msg.Body)
			if err != nil {
				return "", err
			}
			return string(bodyBytes), nil
		}

		partContentType := part.Header.Get("Content-Type")
		if strings.Contains(strings.ToLower(partContentType), "text/plain") {
			partBytes, err := io.ReadAll(part)
			if err != nil {
				continue // Skip this part if we can't read it
			}
			textContent.Write(partBytes)
			textContent.WriteString("\n")
		}
		// Skip other parts (attachments, nested multiparts, etc.)
	}

	if textContent.Len() > 0 {
		return textContent.String(), nil
	}

	return "[No text content found in multipart message]", nil
}
