package main

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"

	"github.com/feelancer21/lnunify"
)

func printJSON[T any](resp T) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "    "); err != nil {
		return err
	}
	out.WriteString("\n")
	if _, err := os.Stdout.Write(out.Bytes()); err != nil {
		return err
	}
	return nil
}

func printSliceJSON[T any](items []T) error {
	if items == nil {
		items = []T{}
	}
	return printJSON(struct {
		Items    []T `json:"items"`
		NumItems int `json:"num_items"`
	}{
		Items:    items,
		NumItems: len(items),
	})
}

type capabilityStatus struct {
	Capability lnunify.Capability `json:"capability"`
	Supported  bool               `json:"supported"`
	Error      string             `json:"error,omitempty"`
}

// printCapabilities prints the evaluated capabilities sorted by name.
func printCapabilities(kind lnunify.BackendKind, caps map[lnunify.Capability]lnunify.CapabilityResult) error {
	status := make([]capabilityStatus, 0, len(caps))
	for c, res := range caps {
		status = append(status, capabilityStatus{
			Capability: c,
			Supported:  res.Supported,
			Error:      res.Error,
		})
	}
	sort.Slice(status, func(i, j int) bool {
		return status[i].Capability < status[j].Capability
	})

	return printJSON(struct {
		Backend      lnunify.BackendKind `json:"backend"`
		Capabilities []capabilityStatus  `json:"capabilities"`
	}{
		Backend:      kind,
		Capabilities: status,
	})
}
