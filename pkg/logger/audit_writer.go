package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// 审计日志轮转的默认参数。审计通道只记录资金流转事件，写入量很小，
// 这里的上限主要防止长期运行的演示实例把磁盘写满。
const (
	auditDefaultMaxSizeMB  = 100
	auditDefaultMaxBackups = 7
	auditDefaultMaxAgeDays = 30
)

// auditWriter 是付款审计日志的追加写入器。超过大小上限时把当前文件
// 改名为带时间戳的备份（payouts.log.20060102T150405），并按份数和
// 存留期清理旧备份。备份文件名里的时间戳即轮转时刻，清理不依赖 Stat。
type auditWriter struct {
	mu   sync.Mutex
	cfg  AuditConfig
	file *os.File
	size int64
	now  func() time.Time
}

const auditBackupStamp = "20060102T150405"

func newAuditWriter(cfg AuditConfig) (*auditWriter, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = auditDefaultMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = auditDefaultMaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = auditDefaultMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditWriter{cfg: cfg, now: time.Now}, nil
}

func (w *auditWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.size+int64(len(p)) > w.maxBytes() {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *auditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *auditWriter) maxBytes() int64 {
	return int64(w.cfg.MaxSizeMB) * 1024 * 1024
}

func (w *auditWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rotate 把当前审计文件改名为备份。轮转失败不丢数据，只是继续在原
// 文件上追加。
func (w *auditWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	backup := fmt.Sprintf("%s.%s", w.cfg.Path, w.now().Format(auditBackupStamp))
	if err := os.Rename(w.cfg.Path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return nil
}

// prune 清理多余或过期的备份。文件名按时间戳排序，最旧的先删。
func (w *auditWriter) prune() {
	backups, err := filepath.Glob(w.cfg.Path + ".*")
	if err != nil || len(backups) == 0 {
		return
	}
	sort.Strings(backups)

	keepFrom := len(backups) - w.cfg.MaxBackups
	cutoff := w.now().Add(-time.Duration(w.cfg.MaxAgeDays) * 24 * time.Hour)
	for i, backup := range backups {
		stamp, parseErr := time.ParseInLocation(auditBackupStamp,
			backup[len(w.cfg.Path)+1:], time.Local)
		expired := parseErr == nil && stamp.Before(cutoff)
		if i < keepFrom || expired {
			_ = os.Remove(backup)
		}
	}
}
