package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

// Message types accepted by send and reply.
var messageTypes = []string{
	"text", "post", "image", "file", "audio", "media", "sticker",
	"interactive", "share_chat", "share_user", "system",
}

// batchSendMaxIDs bounds each recipient list of a batch send.
const batchSendMaxIDs = 200

// contentParams are the per-type content parameters of send and reply.
func contentParams() []node.Param {
	return []node.Param{
		describe(str("text_content", "Text"), "Used when msg_type is text."),
		describe(jsonParam("post_content", "Rich Text"), "Used when msg_type is post."),
		str("image_key", "Image Key"),
		str("media_file_key", "Video File Key"),
		str("media_image_key", "Video Cover Image Key"),
		str("audio_file_key", "Audio File Key"),
		str("file_key", "File Key"),
		str("sticker_file_key", "Sticker File Key"),
		describe(jsonParam("interactive_content", "Card"), "Used when msg_type is interactive."),
		str("share_chat_id", "Shared Chat ID"),
		str("share_user_id", "Shared User ID"),
		jsonParam("system_content", "System Message"),
	}
}

// messageContent builds the content string for msgType from the row's
// content parameters.
func messageContent(p *node.Params, msgType string) (string, error) {
	var missing string

	need := func(name string) string {
		v := p.String(name)
		if v == "" && missing == "" {
			missing = name
		}

		return v
	}

	var content map[string]any

	switch msgType {
	case "text":
		content = map[string]any{"text": need("text_content")}
	case "post":
		return rawJSON(p, "post_content")
	case "interactive":
		return rawJSON(p, "interactive_content")
	case "system":
		return rawJSON(p, "system_content")
	case "image":
		content = map[string]any{"image_key": need("image_key")}
	case "media":
		content = map[string]any{"file_key": need("media_file_key")}
		if img := p.String("media_image_key"); img != "" {
			content["image_key"] = img
		}
	case "audio":
		content = map[string]any{"file_key": need("audio_file_key")}
	case "file":
		content = map[string]any{"file_key": need("file_key")}
	case "sticker":
		content = map[string]any{"file_key": need("sticker_file_key")}
	case "share_chat":
		content = map[string]any{"chat_id": need("share_chat_id")}
	case "share_user":
		content = map[string]any{"user_id": need("share_user_id")}
	default:
		return "{}", nil
	}

	if missing != "" {
		return "", fmt.Errorf("%w: %s (required for %s messages)", node.ErrMissingParameter, missing, msgType)
	}

	if err := p.Err(); err != nil {
		return "", err
	}

	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("resource: encoding %s content: %w", msgType, err)
	}

	return string(data), nil
}

// rawJSON returns a parameter as a JSON string: strings pass through,
// structured values are encoded.
func rawJSON(p *node.Params, name string) (string, error) {
	v := p.Value(name)

	if s, ok := v.(string); ok {
		if s == "" {
			return "", fmt.Errorf("%w: %s", node.ErrMissingParameter, name)
		}

		return s, nil
	}

	if v == nil {
		return "", fmt.Errorf("%w: %s", node.ErrMissingParameter, name)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", node.ErrInvalidParameter, name, err)
	}

	return string(data), nil
}

func messageOperations() []node.Operation {
	endpoints := []endpoint{
		{
			name:    "cardUpdate",
			display: "Update Card Message",
			method:  http.MethodPatch,
			path:    "/open-apis/im/v1/messages/{message_id}",
			params: []node.Param{
				required(str("message_id", "Message ID")),
				required(jsonParam("content", "Card")),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				content, err := rawJSON(p, "content")
				return map[string]any{"content": content}, err
			},
		},
		{
			name:    "cardDelayUpdate",
			display: "Delayed Card Update",
			method:  http.MethodPost,
			path:    "/open-apis/interactive/v1/card/update",
			params: []node.Param{
				required(str("token", "Update Token")),
				required(jsonParam("card", "Card")),
				describe(str("open_ids", "Open IDs"), "Comma-separated; limits the update to these users."),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				card, ok := p.JSON("card").(map[string]any)
				if !ok {
					card = map[string]any{"elements": []any{}}
				}

				if ids := p.Strings("open_ids"); len(ids) > 0 {
					card["open_ids"] = ids
				}

				return map[string]any{"token": p.String("token"), "card": card}, nil
			},
		},
		{
			name:    "urgentApp",
			display: "Send In-App Urgent",
			method:  http.MethodPatch,
			path:    "/open-apis/im/v1/messages/{message_id}/urgent_app",
			query:   []string{"user_id_type"},
			params: []node.Param{
				required(str("message_id", "Message ID")),
				userIDType(),
				required(str("user_id_list", "User IDs")),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				return map[string]any{"user_id_list": p.Strings("user_id_list")}, nil
			},
		},
		{
			name:    "batchProgress",
			display: "Batch Message Progress",
			method:  http.MethodGet,
			path:    "/open-apis/im/v1/batch_messages/{batch_message_id}/get_progress",
			params:  []node.Param{required(str("batch_message_id", "Batch Message ID"))},
		},
		{
			name:    "ephemeralSend",
			display: "Send Ephemeral Card",
			method:  http.MethodPost,
			path:    "/open-apis/ephemeral/v1/send",
			params: []node.Param{
				required(str("chat_id", "Chat ID")),
				choice("user_id_type", "User ID Type", "open_id", "open_id", "user_id", "email"),
				required(str("user_id_value", "User ID")),
				required(jsonParam("card", "Card")),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				body := map[string]any{
					"chat_id":  p.String("chat_id"),
					"msg_type": "interactive",
					"card":     p.JSON("card"),
				}
				body[p.String("user_id_type")] = p.String("user_id_value")

				return body, nil
			},
		},
	}

	ops := []node.Operation{
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "send"},
			DisplayName: "Send Message",
			Params: append([]node.Param{
				choice("receive_id_type", "Receive ID Type", "open_id", "open_id", "user_id", "union_id", "email", "chat_id"),
				required(str("receive_id", "Receive ID")),
				choice("msg_type", "Message Type", "text", messageTypes...),
				describe(str("uuid", "Idempotency Key"), "Requests with the same uuid within an hour send one message."),
			}, append(contentParams(), optionsParam())...),
			Handler: sendMessage,
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "reply"},
			DisplayName: "Reply to Message",
			Params: append([]node.Param{
				required(str("message_id", "Message ID")),
				choice("msg_type", "Message Type", "text", messageTypes...),
				str("uuid", "Idempotency Key"),
				boolean("reply_in_thread", "Reply in Thread", false),
			}, append(contentParams(), optionsParam())...),
			Handler: replyMessage,
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "edit"},
			DisplayName: "Edit Message",
			Params: []node.Param{
				required(str("message_id", "Message ID")),
				choice("msg_type", "Message Type", "text", "text", "post"),
				str("text_content", "Text"),
				jsonParam("post_content", "Rich Text"),
				optionsParam(),
			},
			Handler: editMessage,
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "batchSend"},
			DisplayName: "Batch Send Message",
			Params: []node.Param{
				choice("msg_type", "Message Type", "text", "text", "post", "image", "share_chat", "interactive"),
				str("department_ids", "Department IDs"),
				str("open_ids", "Open IDs"),
				str("user_ids", "User IDs"),
				str("union_ids", "Union IDs"),
				str("text_content", "Text"),
				jsonParam("post_content", "Rich Text"),
				str("image_key", "Image Key"),
				str("share_chat_id", "Shared Chat ID"),
				jsonParam("card", "Card"),
				optionsParam(),
			},
			Handler: batchSend,
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "imageUpload"},
			DisplayName: "Upload Image",
			Params: []node.Param{
				choice("image_type", "Image Type", "message", "message", "avatar"),
				binaryProperty("Input Binary Field"),
				optionsParam(),
			},
			Handler: uploadImage,
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "imageDownload"},
			DisplayName: "Download Image",
			Params: []node.Param{
				required(str("image_key", "Image Key")),
				binaryProperty("Output Binary Field"),
				optionsParam(str("fileName", "File Name"), str("mimeType", "MIME Type")),
			},
			Handler: func(ctx context.Context, c *node.Call) (node.Result, error) {
				key := c.Params.String("image_key")
				if err := c.Params.Err(); err != nil {
					return nil, err
				}

				return download(ctx, c, "/open-apis/im/v1/images/"+pathArg(c.Params, "image_key"), key,
					map[string]any{"image_key": key})
			},
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "fileUpload"},
			DisplayName: "Upload File",
			Params: []node.Param{
				choice("file_type", "File Type", "stream", "opus", "mp4", "pdf", "doc", "xls", "ppt", "stream"),
				required(str("file_name", "File Name")),
				binaryProperty("Input Binary Field"),
				optionsParam(describe(num("duration", "Duration", nil), "Audio or video length in milliseconds.")),
			},
			Handler: uploadMessageFile,
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "fileDownload"},
			DisplayName: "Download File",
			Params: []node.Param{
				required(str("file_key", "File Key")),
				binaryProperty("Output Binary Field"),
				optionsParam(str("fileName", "File Name"), str("mimeType", "MIME Type")),
			},
			Handler: func(ctx context.Context, c *node.Call) (node.Result, error) {
				key := c.Params.String("file_key")
				if err := c.Params.Err(); err != nil {
					return nil, err
				}

				return download(ctx, c, "/open-apis/im/v1/files/"+pathArg(c.Params, "file_key"), key,
					map[string]any{"file_key": key})
			},
		},
		{
			Key:         node.Key{Resource: node.ResourceMessage, Operation: "eventDecrypt"},
			DisplayName: "Decrypt Event",
			Description: "Decrypts an encrypted event callback body.",
			Params: []node.Param{
				required(str("encrypt_key", "Encrypt Key")),
				required(str("encrypt_data", "Encrypted Data")),
			},
			Handler: decryptEvent,
		},
	}

	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceMessage))
	}

	return ops
}

func sendMessage(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	receiveIDType := p.String("receive_id_type")
	receiveID := p.String("receive_id")
	msgType := p.String("msg_type")

	if err := p.Err(); err != nil {
		return nil, err
	}

	content, err := messageContent(p, msgType)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    content,
	}

	if uuid := p.String("uuid"); uuid != "" {
		body["uuid"] = uuid
	}

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/im/v1/messages",
		Query:   map[string][]string{"receive_id_type": {receiveIDType}},
		Body:    body,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func replyMessage(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	msgType := p.String("msg_type")
	replyInThread := p.Bool("reply_in_thread")

	if err := p.Err(); err != nil {
		return nil, err
	}

	content, err := messageContent(p, msgType)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"msg_type":        msgType,
		"content":         content,
		"reply_in_thread": replyInThread,
	}

	if uuid := p.String("uuid"); uuid != "" {
		body["uuid"] = uuid
	}

	path, err := expandPath(p, "/open-apis/im/v1/messages/{message_id}/reply")
	if err != nil {
		return nil, err
	}

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    body,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func editMessage(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	msgType := p.String("msg_type")

	path, err := expandPath(p, "/open-apis/im/v1/messages/{message_id}")
	if err != nil {
		return nil, err
	}

	content, err := messageContent(p, msgType)
	if err != nil {
		return nil, err
	}

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPut,
		Path:    path,
		Body:    map[string]any{"msg_type": msgType, "content": content},
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func batchSend(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params
	msgType := p.String("msg_type")

	body := map[string]any{"msg_type": msgType}

	for _, name := range []string{"department_ids", "open_ids", "user_ids", "union_ids"} {
		ids, err := idList(p, name, batchSendMaxIDs)
		if err != nil {
			return nil, err
		}

		if len(ids) > 0 {
			body[name] = ids
		}
	}

	switch msgType {
	case "interactive":
		body["card"] = p.JSON("card")
	case "post":
		body["content"] = p.Object("post_content")
	case "text", "image", "share_chat":
		content, err := messageContent(p, msgType)
		if err != nil {
			return nil, err
		}

		body["content"] = json.RawMessage(content)
	default:
		body["content"] = map[string]any{}
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/message/v4/batch_send/",
		Body:    body,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func uploadImage(ctx context.Context, c *node.Call) (node.Result, error) {
	b, err := inputBinary(c, "binaryPropertyName")
	if err != nil {
		return nil, err
	}

	imageType := c.Params.String("image_type")
	if err := c.Params.Err(); err != nil {
		return nil, err
	}

	form := uploadForm(feishu.NewForm().Field("image_type", imageType), "image", b, "")

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/im/v1/images",
		Form:    form,
		Timeout: c.Params.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func uploadMessageFile(ctx context.Context, c *node.Call) (node.Result, error) {
	b, err := inputBinary(c, "binaryPropertyName")
	if err != nil {
		return nil, err
	}

	p := c.Params
	fileType := p.String("file_type")
	fileName := p.String("file_name")
	duration := p.Int("options.duration")

	if err := p.Err(); err != nil {
		return nil, err
	}

	form := feishu.NewForm().
		Field("file_type", fileType).
		Field("file_name", fileName)

	if duration > 0 {
		form.Field("duration", strconv.Itoa(duration))
	}

	uploadForm(form, "file", b, fileName)

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/im/v1/files",
		Form:    form,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func decryptEvent(_ context.Context, c *node.Call) (node.Result, error) {
	key := c.Params.String("encrypt_key")
	data := c.Params.String("encrypt_data")

	if err := c.Params.Err(); err != nil {
		return nil, err
	}

	plain, err := feishu.DecryptEvent(key, data)
	if err != nil {
		return nil, err
	}

	var event any
	if err := json.Unmarshal(plain, &event); err != nil {
		return nil, fmt.Errorf("%w: decrypted payload is not JSON", feishu.ErrDecrypt)
	}

	return node.JSON(event), nil
}
