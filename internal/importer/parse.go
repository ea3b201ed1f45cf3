// Package importer loads top-up jobs from files dropped into an inbox.
package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a job file
//
//	bank: raif
//	jobs:
//	  - number: "+380671234567"
//	  - number: "+380931112233"
//	    provider: lifecell
//	    amount: 20
type File struct {
	Bank string  `yaml:"bank"`
	Jobs []Entry `yaml:"jobs"`
}

// Entry is one job in a file. Empty fields are resolved when the job runs.
type Entry struct {
	Number   string `yaml:"number"`
	Bank     string `yaml:"bank,omitempty"`
	Provider string `yaml:"provider,omitempty"`
	Amount   int    `yaml:"amount,omitempty"`
}

// Supported reports whether path has an extension the importer reads
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".txt":
		return true
	}
	return false
}

// Parse decodes a job file. YAML files use the File layout; .txt files
// hold one number per line with # comments.
func Parse(path string, data []byte) ([]jobstore.NewJob, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".txt":
		return parseLines(data)
	default:
		return nil, fmt.Errorf("unsupported job file %s", filepath.Base(path))
	}
}

func parseYAML(data []byte) ([]jobstore.NewJob, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	jobs := make([]jobstore.NewJob, 0, len(f.Jobs))
	for i, e := range f.Jobs {
		if e.Bank == "" {
			e.Bank = f.Bank
		}
		nj, err := e.toNewJob()
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i+1, err)
		}
		jobs = append(jobs, nj)
	}
	return jobs, nil
}

func parseLines(data []byte) ([]jobstore.NewJob, error) {
	var jobs []jobstore.NewJob
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		nj, err := Entry{Number: text}.toNewJob()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		jobs = append(jobs, nj)
	}
	return jobs, sc.Err()
}

func (e Entry) toNewJob() (jobstore.NewJob, error) {
	number := strings.Join(strings.Fields(e.Number), "")
	if number == "" {
		return jobstore.NewJob{}, fmt.Errorf("number is required")
	}
	if strings.Trim(number, "+0123456789") != "" {
		return jobstore.NewJob{}, fmt.Errorf("invalid number %q", e.Number)
	}

	nj := jobstore.NewJob{Number: number, Bank: domain.Bank(strings.ToLower(e.Bank))}
	if e.Provider != "" {
		c, err := domain.ParseCarrier(e.Provider)
		if err != nil {
			return jobstore.NewJob{}, err
		}
		nj.Provider = &c
	}
	if e.Amount < 0 {
		return jobstore.NewJob{}, fmt.Errorf("amount must be positive, got %d", e.Amount)
	}
	if e.Amount > 0 {
		amount := e.Amount
		nj.Amount = &amount
	}
	return nj, nil
}
