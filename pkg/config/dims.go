package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"spimpreview/internal/models"
)

// DimsFileName is the descriptor file name inside data and kernel folders
const DimsFileName = "dims.txt"

// ReadDimensions parses a volume descriptor holding exactly three integer
// lines: width, height, depth.
func ReadDimensions(path string) (models.Dimensions, error) {
	values, err := readDescriptorLines(path)
	if err != nil {
		return models.Dimensions{}, err
	}
	if len(values) != 3 {
		return models.Dimensions{}, &ConfigurationError{
			Source: path,
			Reason: fmt.Sprintf("expected 3 lines [width, height, depth], found %d", len(values)),
		}
	}

	dims := models.Dimensions{}
	for i, field := range []*int{&dims.Width, &dims.Height, &dims.Depth} {
		if *field, err = parseDescriptorValue(path, i, values[i]); err != nil {
			return models.Dimensions{}, err
		}
	}
	if err := dims.Validate(); err != nil {
		return models.Dimensions{}, &ConfigurationError{Source: path, Reason: "non-positive dimension", Err: err}
	}
	return dims, nil
}

// ReadKernelDimensions parses a kernel descriptor. Only the first two lines
// (kernel width and height) are consumed; any further lines are engine specific.
func ReadKernelDimensions(path string) (models.KernelDimensions, error) {
	values, err := readDescriptorLines(path)
	if err != nil {
		return models.KernelDimensions{}, err
	}
	if len(values) < 2 {
		return models.KernelDimensions{}, &ConfigurationError{
			Source: path,
			Reason: fmt.Sprintf("expected at least 2 lines [kernelWidth, kernelHeight], found %d", len(values)),
		}
	}

	var kd models.KernelDimensions
	if kd.Width, err = parseDescriptorValue(path, 0, values[0]); err != nil {
		return models.KernelDimensions{}, err
	}
	if kd.Height, err = parseDescriptorValue(path, 1, values[1]); err != nil {
		return models.KernelDimensions{}, err
	}
	if kd.Width <= 0 || kd.Height <= 0 {
		return models.KernelDimensions{}, &ConfigurationError{
			Source: path,
			Reason: fmt.Sprintf("kernel dimensions %dx%d must be positive", kd.Width, kd.Height),
		}
	}
	return kd, nil
}

// readDescriptorLines returns the trimmed lines of a descriptor, dropping
// trailing blank lines left by a final newline.
func readDescriptorLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Reason: "cannot open dimension descriptor", Err: err}
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigurationError{Source: path, Reason: "cannot read dimension descriptor", Err: err}
	}

	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func parseDescriptorValue(path string, line int, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ConfigurationError{
			Source: path,
			Reason: fmt.Sprintf("line %d is not an integer", line+1),
			Err:    err,
		}
	}
	return n, nil
}
