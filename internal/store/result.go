package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry 是结果文件中的一行：股票代码与公司名。
type Entry struct {
	Code string
	Name string
}

// WriteResultFile 把筛选结果写成 code,company_name 的纯文本，UTF-8、无表头。
// 与历史脚本的 search_result.txt 格式保持一致。
func WriteResultFile(path string, entries []Entry) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("result path cannot be empty")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Code+","+e.Name)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// ReadResultFile 读回结果文件。名字里允许再出现逗号，只在第一个逗号处切分。
func ReadResultFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file failed (%s): %w", path, err)
	}
	var entries []Entry
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		e := Entry{Code: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			e.Name = strings.TrimSpace(parts[1])
		}
		if e.Code == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
