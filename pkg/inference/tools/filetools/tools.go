package filetools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/docagent/pkg/docstore"
	"github.com/go-go-golems/docagent/pkg/filestore"
	"github.com/go-go-golems/docagent/pkg/inference/tools"
	"github.com/pkg/errors"
)

const (
	ListToolName = "list_attached_files"
	ReadToolName = "read_attached_file"
)

var readSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "file": {"type": "string", "description": "Name or id of the attached file"}
  },
  "required": ["file"]
}`)

// Tools returns the attachment tools, or nil when nothing is attached.
func Tools(attachments []filestore.Attachment, files filestore.Store) ([]tools.Tool, error) {
	if len(attachments) == 0 || files == nil {
		return nil, nil
	}
	atts := append([]filestore.Attachment(nil), attachments...)

	list, err := tools.NewTool(ListToolName,
		"List the files attached to this conversation.",
		nil, false,
		func(context.Context, docstore.Store, map[string]interface{}) (interface{}, error) {
			return atts, nil
		})
	if err != nil {
		return nil, err
	}

	read, err := tools.NewTool(ReadToolName,
		fmt.Sprintf("Read the text content of an attached file. Output is limited to %d characters.", MaxContentChars),
		readSchema, false,
		func(ctx context.Context, _ docstore.Store, args map[string]interface{}) (interface{}, error) {
			ref, _ := args["file"].(string)
			att, ok := find(atts, ref)
			if !ok {
				return nil, errors.Errorf("no attached file named %q", ref)
			}
			data, err := files.Open(ctx, att.ID)
			if err != nil {
				return nil, err
			}
			ct := att.ContentType
			if ct == "" {
				head := data
				if len(head) > 512 {
					head = head[:512]
				}
				ct = filestore.DetectContentType(att.Name, head)
			}
			text, err := Extract(att.Name, ct, data)
			if err != nil {
				return nil, err
			}
			return Truncate(text), nil
		})
	if err != nil {
		return nil, err
	}

	return []tools.Tool{list, read}, nil
}

func find(atts []filestore.Attachment, ref string) (filestore.Attachment, bool) {
	ref = strings.TrimSpace(ref)
	for _, a := range atts {
		if a.ID == ref || a.Name == ref {
			return a, true
		}
	}
	for _, a := range atts {
		if strings.EqualFold(a.Name, ref) {
			return a, true
		}
	}
	return filestore.Attachment{}, false
}
