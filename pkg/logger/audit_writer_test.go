package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payouts.log")

	w, err := newAuditWriter(AuditConfig{Path: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("创建审计写入器失败: %v", err)
	}
	defer w.Close()

	chunk := bytes.Repeat([]byte("a"), 700*1024)
	if _, err := w.Write(chunk); err != nil {
		t.Fatalf("首次写入失败: %v", err)
	}
	if _, err := w.Write(chunk); err != nil {
		t.Fatalf("二次写入失败: %v", err)
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("应生成一个备份文件, 实际 %v (%v)", backups, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("当前文件应存在: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Fatalf("轮转后当前文件只应包含第二次写入: %d", info.Size())
	}
}

func TestAuditWriterPrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payouts.log")

	w, err := newAuditWriter(AuditConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("创建审计写入器失败: %v", err)
	}
	defer w.Close()

	stamps := []time.Time{
		time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local),
		time.Date(2026, 8, 30, 11, 0, 0, 0, time.Local),
	}
	for _, stamp := range stamps {
		w.now = func() time.Time { return stamp }
		if _, err := w.Write([]byte("entry\n")); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		if err := w.rotate(); err != nil {
			t.Fatalf("轮转失败: %v", err)
		}
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("应只保留一个备份, 实际 %v (%v)", backups, err)
	}
	if filepath.Base(backups[0]) != "payouts.log.20260830T110000" {
		t.Fatalf("应保留最新的备份, 实际 %s", backups[0])
	}
}
