package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// startWatch 调用方持有 mu
//
// 监控配置文件所在目录，编辑器的改名保存和 ConfigMap 的软链切换都能收到。
func (m *Manager) startWatch() error {
	if m.watching {
		return nil
	}
	file := filepath.Clean(m.v.ConfigFileUsed())
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ErrWatchFailed.WithError(err)
	}
	if err := w.Add(filepath.Dir(file)); err != nil {
		_ = w.Close()
		return ErrWatchFailed.WithError(err)
	}

	m.watcher = w
	m.watchDone = make(chan struct{})
	m.watching = true
	go m.watchLoop(w, file, m.watchDone)
	return nil
}

func (m *Manager) watchLoop(w *fsnotify.Watcher, file string, done chan struct{}) {
	defer close(done)

	target, _ := filepath.EvalSymlinks(file)
	for {
		select {
		case e, ok := <-w.Events:
			if !ok {
				return
			}
			current, _ := filepath.EvalSymlinks(file)
			switch {
			case filepath.Clean(e.Name) == file && (e.Has(fsnotify.Write) || e.Has(fsnotify.Create)):
			case current != "" && current != target:
				target = current
			default:
				continue
			}
			m.handleChange(e)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.reportError(ErrWatchFailed.WithError(err))
		}
	}
}

// handleChange 在 mu 写锁下重新读取，读操作不会看到读取中途的状态
func (m *Manager) handleChange(e fsnotify.Event) {
	if m.restoring.Load() {
		return
	}

	m.mu.RLock()
	watching, protected := m.watching, m.protected
	listeners := append([]func(){}, m.listeners...)
	snap := append([]byte(nil), m.snap...)
	file := m.v.ConfigFileUsed()
	m.mu.RUnlock()

	if !watching {
		return
	}
	if protected {
		if current, err := os.ReadFile(file); err == nil && bytes.Equal(current, snap) {
			return
		}
		m.log.Warn("config file modified, restoring", zap.String("file", file))
		m.restore(snap)
		return
	}

	m.mu.Lock()
	err := m.v.ReadInConfig()
	m.mu.Unlock()
	if err != nil {
		m.reportError(ErrConfigReadFailed.WithError(err))
		return
	}

	m.log.Info("config file changed", zap.String("file", file), zap.String("op", e.Op.String()))
	for _, fn := range listeners {
		fn()
	}
}

// OnChange 注册变更回调
func (m *Manager) OnChange(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Watch 开始监控配置文件，重复调用无副作用
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return ErrNotLoaded
	}
	return m.startWatch()
}

// StopWatch 关闭 watcher 并等待监控协程退出，不能在 OnChange 回调中调用
func (m *Manager) StopWatch() {
	m.mu.Lock()
	w, done := m.watcher, m.watchDone
	m.watcher, m.watchDone = nil, nil
	m.watching = false
	m.mu.Unlock()

	if w == nil {
		return
	}
	_ = w.Close()
	<-done
}

// Watching 是否正在监控
func (m *Manager) Watching() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watching
}

// SetProtected 切换保护模式，开启时以当前文件内容为快照
func (m *Manager) SetProtected(protected bool) {
	m.mu.Lock()
	m.protected = protected
	var err error
	if protected {
		err = m.saveSnapshot()
	}
	m.mu.Unlock()

	if err != nil {
		m.reportError(err)
	}
}

// IsProtected 是否处于保护模式
func (m *Manager) IsProtected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.protected
}

// saveSnapshot 调用方持有 mu
func (m *Manager) saveSnapshot() error {
	file := m.v.ConfigFileUsed()
	if file == "" {
		return nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	m.snap = data
	return nil
}

// restore 写临时文件后原子替换，再重新读取
func (m *Manager) restore(content []byte) {
	if content == nil {
		return
	}
	file := m.ConfigFileUsed()
	if file == "" {
		return
	}

	m.restoring.Store(true)
	defer m.restoring.Store(false)

	tmp, err := os.CreateTemp(filepath.Dir(file), ".config-restore-*")
	if err != nil {
		m.reportError(fmt.Errorf("create temp file: %w", err))
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(name)
		m.reportError(fmt.Errorf("write temp file: %w", err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		m.reportError(fmt.Errorf("close temp file: %w", err))
		return
	}
	if err := os.Rename(name, file); err != nil {
		os.Remove(name)
		m.reportError(fmt.Errorf("restore config file: %w", err))
		return
	}

	m.mu.Lock()
	err = m.v.ReadInConfig()
	m.mu.Unlock()
	if err != nil {
		m.reportError(fmt.Errorf("reload after restore: %w", err))
	}
}

func (m *Manager) reportError(err error) {
	m.mu.RLock()
	onError := m.onError
	m.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	m.log.Error("config error", zap.Error(err))
}
