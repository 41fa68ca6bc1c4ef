// Package smi parses the text and CSV output of nvidia-smi and ps into typed
// records.
//
// Every line parser returns (record, true) for a data line and (zero, false)
// for anything else: blank lines, "#" headers, CSV header rows and lines with
// too few fields. Parsers never return errors and never emit partial records.
//
// Optional numeric fields follow the nvidia-smi convention: "-", "[N/A]" and
// "[Not Supported]" mean the value is absent and decode to nil. A malformed
// optional field also decodes to nil, while a malformed key field (device
// index, pid) causes the whole line to be discarded.
package smi
