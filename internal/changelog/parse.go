package changelog

import (
	"fmt"
	"io"
	"os"

	"github.com/meridianos/confd/internal/xmlnode"
)

// Parse reads a changelog document:
//
//	<changelog>
//	  <step module="m" revision="2023-01-01" from="2020-01-01"
//	        op="rename" where="/m:old" tag="'new'"/>
//	  <step module="m" revision="2023-01-01" op="replace" where="/m:x">
//	    <new><x>...</x></new>
//	  </step>
//	</changelog>
//
// Steps apply in document order. revision is the bracket's inclusive
// upper bound, from its exclusive lower bound (optional).
func Parse(r io.Reader) (Log, error) {
	doc, err := xmlnode.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("changelog: %w", err)
	}
	if doc.Name != "changelog" {
		return nil, fmt.Errorf("changelog: expected <changelog> root, got <%s>", doc.Name)
	}

	var log Log
	for _, step := range doc.ChildrenNamed("step") {
		e, err := parseStep(step)
		if err != nil {
			return nil, err
		}
		log = append(log, e)
	}
	return log, nil
}

// ParseFile loads a changelog from path; a missing file yields an
// empty log, since most deployments carry no changelog at all.
func ParseFile(path string) (Log, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func parseStep(step *xmlnode.Node) (Entry, error) {
	var e Entry
	e.Module, _ = step.Attribute("module")
	e.To, _ = step.Attribute("revision")
	e.From, _ = step.Attribute("from")
	e.Where, _ = step.Attribute("where")
	e.When, _ = step.Attribute("when")
	e.Tag, _ = step.Attribute("tag")
	e.Dst, _ = step.Attribute("dst")

	opStr, _ := step.Attribute("op")
	switch opStr {
	case "rename":
		e.Op = OpRename
	case "replace":
		e.Op = OpReplace
	case "insert":
		e.Op = OpInsert
	case "delete":
		e.Op = OpDelete
	case "move":
		e.Op = OpMove
	default:
		return e, fmt.Errorf("changelog: unknown op %q", opStr)
	}

	if e.Module == "" || e.To == "" || e.Where == "" {
		return e, fmt.Errorf("changelog: step missing module/revision/where")
	}

	if newNode := step.Child("new"); newNode != nil {
		e.New = newNode.CopySubtree()
	}
	switch e.Op {
	case OpRename:
		if e.Tag == "" {
			return e, fmt.Errorf("changelog: rename step missing tag")
		}
	case OpReplace, OpInsert:
		if e.New == nil {
			return e, fmt.Errorf("changelog: %s step missing <new>", opStr)
		}
	case OpMove:
		if e.Dst == "" {
			return e, fmt.Errorf("changelog: move step missing dst")
		}
	}
	return e, nil
}
