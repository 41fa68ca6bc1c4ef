package smi

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kubeadapt/gpumon/pkg/model"
)

const (
	deviceLabelPrefix = "GPU"
	firstDeviceLabel  = "GPU0"
	legendMarker      = "Legend"
)

// sgrSequence matches the ANSI styling escapes nvidia-smi wraps around the
// header line when writing to a terminal.
var sgrSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ParseLink classifies a single `nvidia-smi topo -m` matrix token.
// It returns false for tokens that are not link types (affinity values,
// "N/A", column headers).
func ParseLink(token string) (model.Link, bool) {
	switch token = strings.TrimSpace(token); token {
	case "X":
		return model.Link{Kind: model.LinkSelf}, true
	case "PIX":
		return model.Link{Kind: model.LinkPIX}, true
	case "PXB":
		return model.Link{Kind: model.LinkPXB}, true
	case "PHB":
		return model.Link{Kind: model.LinkPHB}, true
	case "NODE":
		return model.Link{Kind: model.LinkNode}, true
	case "SYS":
		return model.Link{Kind: model.LinkSys}, true
	}
	if rest, ok := strings.CutPrefix(token, "NV"); ok {
		lanes, err := strconv.ParseUint(rest, 10, 32)
		if err == nil {
			return model.Link{Kind: model.LinkNVLink, Lanes: uint32(lanes)}, true
		}
	}
	return model.Link{}, false
}

// topoHeader describes the matrix columns announced by the header line.
type topoHeader struct {
	// device[i] is true when matrix column i is a GPU (NIC columns are false).
	device []bool
}

func (h *topoHeader) linkColumns() int { return len(h.device) }

// ParseTopology parses the adjacency block printed by `nvidia-smi topo -m`:
//
//	        GPU0    GPU1    CPU Affinity    NUMA Affinity   GPU NUMA ID
//	GPU0     X      PIX     0-31            0               N/A
//	GPU1    PIX      X      0-31            0               N/A
//
//	Legend:
//	...
//
// Rows start at the first line beginning with "GPU0" and end at the first
// blank line or the legend. Malformed rows are skipped. When a header line is
// present its GPU/NIC column labels fix the number of link columns and NIC
// columns are dropped from the matrix; otherwise link columns are inferred
// from the tokens themselves.
func ParseTopology(output string) model.DeviceTopology {
	var (
		topo   model.DeviceTopology
		header *topoHeader
		inRows bool
	)

	for _, line := range strings.Split(output, "\n") {
		line = sgrSequence.ReplaceAllString(strings.TrimRight(line, "\r"), "")
		trimmed := strings.TrimSpace(line)

		if !inRows {
			if strings.HasPrefix(line, firstDeviceLabel) {
				inRows = true
			} else {
				if h := parseTopoHeader(trimmed); h != nil {
					header = h
				}
				continue
			}
		}

		if trimmed == "" || strings.HasPrefix(trimmed, legendMarker) {
			break
		}

		fields := strings.Fields(trimmed)
		if !isDeviceLabel(fields[0]) {
			// NIC rows and anything else that is not a device.
			continue
		}

		row, affinity, ok := parseTopoRow(fields[1:], len(topo.Matrix), topo.DeviceCount, header)
		if !ok {
			continue
		}

		topo.Matrix = append(topo.Matrix, row)
		topo.DeviceCount = max(topo.DeviceCount, len(row))
		if len(affinity) > 0 {
			topo.CPUAffinity = append(topo.CPUAffinity, affinity[0])
		}
		if len(affinity) > 1 {
			topo.NUMAAffinity = append(topo.NUMAAffinity, affinity[1])
		}
	}

	return topo
}

// parseTopoHeader recognizes the column header line ("GPU0 GPU1 NIC0 CPU Affinity ...").
func parseTopoHeader(trimmed string) *topoHeader {
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || fields[0] != firstDeviceLabel {
		return nil
	}
	h := &topoHeader{}
	for _, f := range fields {
		switch {
		case isDeviceLabel(f):
			h.device = append(h.device, true)
		case isNICLabel(f):
			h.device = append(h.device, false)
		default:
			return h
		}
	}
	return h
}

// parseTopoRow splits a row's tokens into link cells and trailing affinity
// values. rowIndex is the row's position and width the widest row seen so far;
// both bound how many leading tokens must be link columns when no header is
// available.
func parseTopoRow(tokens []string, rowIndex, width int, header *topoHeader) ([]*model.Link, []string, bool) {
	if header != nil {
		n := header.linkColumns()
		if len(tokens) < n {
			return nil, nil, false
		}
		row := make([]*model.Link, 0, n)
		for i := 0; i < n; i++ {
			if !header.device[i] {
				continue
			}
			row = append(row, linkOrNil(tokens[i]))
		}
		return row, tokens[n:], true
	}

	minLinks := max(width, rowIndex+1)
	var row []*model.Link
	i := 0
	for ; i < len(tokens); i++ {
		if link, ok := ParseLink(tokens[i]); ok {
			row = append(row, &link)
			continue
		}
		if i < minLinks {
			row = append(row, nil)
			continue
		}
		break
	}
	if len(row) <= rowIndex {
		// The row cannot even reach its own diagonal cell.
		return nil, nil, false
	}
	return row, tokens[i:], true
}

func linkOrNil(token string) *model.Link {
	link, ok := ParseLink(token)
	if !ok {
		return nil
	}
	return &link
}

func isDeviceLabel(s string) bool {
	return hasIndexSuffix(s, deviceLabelPrefix)
}

func isNICLabel(s string) bool {
	return hasIndexSuffix(s, "NIC")
}

func hasIndexSuffix(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}
