package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Threads       int
	Mode          string
	Operations    int
	Errors        int64
	Bytes         int64
	Duration      float64
	Throughput    float64 // ops/sec
	MBPerSec      float64
	Latency       float64 // µs/op
	HitRate       float64 // For read benchmarks
	ReadRatio     float64 // For mixed benchmarks
	WriteRatio    float64 // For mixed benchmarks
	Timestamp     time.Time
}

// String renders the result the way it is printed after a run
func (r BenchmarkResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s Benchmark Results:", r.BenchmarkType)
	fmt.Fprintf(&sb, "\n  Key Mode: %s", r.Mode)
	fmt.Fprintf(&sb, "\n  Threads: %d", r.Threads)
	fmt.Fprintf(&sb, "\n  Operations: %d", r.Operations)
	if r.Errors > 0 {
		fmt.Fprintf(&sb, "\n  Errors: %d", r.Errors)
	}
	fmt.Fprintf(&sb, "\n  Data: %.2f MB", float64(r.Bytes)/(1024*1024))
	fmt.Fprintf(&sb, "\n  Time: %.2f seconds", r.Duration)
	fmt.Fprintf(&sb, "\n  Throughput: %.2f ops/sec (%.2f MB/sec)", r.Throughput, r.MBPerSec)
	fmt.Fprintf(&sb, "\n  Latency: %.3f µs/op", r.Latency)
	switch r.BenchmarkType {
	case "Read":
		fmt.Fprintf(&sb, "\n  Hit Rate: %.2f%%", r.HitRate)
	case "Mixed":
		fmt.Fprintf(&sb, "\n  Ratio: %.0f%% reads / %.0f%% writes", r.ReadRatio, r.WriteRatio)
	}
	return sb.String()
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Threads", "Mode",
	"Operations", "Errors", "Bytes", "Duration", "Throughput", "MBPerSec",
	"Latency", "HitRate", "ReadRatio", "WriteRatio",
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			strconv.Itoa(r.Threads),
			r.Mode,
			strconv.Itoa(r.Operations),
			strconv.FormatInt(r.Errors, 10),
			strconv.FormatInt(r.Bytes, 10),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.2f", r.MBPerSec),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.1f", r.ReadRatio),
			fmt.Sprintf("%.1f", r.WriteRatio),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}
	records = records[1:]

	results := make([]BenchmarkResult, 0, len(records))
	for _, record := range records {
		if len(record) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, record[0])
		numKeys, _ := strconv.Atoi(record[2])
		valueSize, _ := strconv.Atoi(record[3])
		threads, _ := strconv.Atoi(record[4])
		operations, _ := strconv.Atoi(record[6])
		errCount, _ := strconv.ParseInt(record[7], 10, 64)
		bytes, _ := strconv.ParseInt(record[8], 10, 64)
		duration, _ := strconv.ParseFloat(record[9], 64)
		throughput, _ := strconv.ParseFloat(record[10], 64)
		mbPerSec, _ := strconv.ParseFloat(record[11], 64)
		latency, _ := strconv.ParseFloat(record[12], 64)
		hitRate, _ := strconv.ParseFloat(record[13], 64)
		readRatio, _ := strconv.ParseFloat(record[14], 64)
		writeRatio, _ := strconv.ParseFloat(record[15], 64)

		results = append(results, BenchmarkResult{
			Timestamp:     timestamp,
			BenchmarkType: record[1],
			NumKeys:       numKeys,
			ValueSize:     valueSize,
			Threads:       threads,
			Mode:          record[5],
			Operations:    operations,
			Errors:        errCount,
			Bytes:         bytes,
			Duration:      duration,
			Throughput:    throughput,
			MBPerSec:      mbPerSec,
			Latency:       latency,
			HitRate:       hitRate,
			ReadRatio:     readRatio,
			WriteRatio:    writeRatio,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Println("No results to display")
		return
	}

	fmt.Println("+-----------------+--------+---------+------------+----------+----------+--------------+")
	fmt.Println("| Benchmark Type  | Keys   | ValSize | Ops/sec    | MB/sec   | Latency  | Hit Rate     |")
	fmt.Println("+-----------------+--------+---------+------------+----------+----------+--------------+")

	for _, r := range results {
		hitRateStr := "-"
		if r.BenchmarkType == "Read" {
			hitRateStr = fmt.Sprintf("%.2f%%", r.HitRate)
		} else if r.BenchmarkType == "Mixed" {
			hitRateStr = fmt.Sprintf("R:%.0f/W:%.0f", r.ReadRatio, r.WriteRatio)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Printf("| %-15s | %6d | %7d | %10.2f | %8.2f | %6.2f%s | %12s |\n",
			r.BenchmarkType,
			r.NumKeys,
			r.ValueSize,
			r.Throughput,
			r.MBPerSec,
			latency, latencyUnit,
			hitRateStr)
	}
	fmt.Println("+-----------------+--------+---------+------------+----------+----------+--------------+")
}
