package tierlimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ConfigProvider 配置提供器接口
// 用于从外部源加载限流配置
type ConfigProvider interface {
	// Load 加载配置
	Load() (Config, error)
	// Watch 监视配置变更，返回变更通道
	// 调用方需要在不再需要时取消 context 以停止监视
	Watch(ctx context.Context) (<-chan ConfigChange, error)
}

// ConfigChange 配置变更事件
type ConfigChange struct {
	// NewConfig 新配置
	NewConfig Config
	// Err 如果加载失败
	Err error
}

// FileProvider 文件配置提供器
//
// 根据扩展名自动识别 YAML（.yaml/.yml）和 JSON（.json）。
// 文件中缺失的字段保持 DefaultConfig 的取值，配置只需写出差异部分。
type FileProvider struct {
	path     string
	debounce time.Duration
}

// NewFileProvider 创建文件配置提供器
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty config path", ErrConfigNotFound)
	}
	if _, err := configParser(path); err != nil {
		return nil, err
	}
	return &FileProvider{
		path:     path,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Load 从文件加载并验证配置
func (p *FileProvider) Load() (Config, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, p.path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", p.path, err)
	}

	parser, err := configParser(p.path)
	if err != nil {
		return Config{}, err
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, p.path, err)
	}

	// 以默认配置为底，文件只覆盖写出的字段
	config := DefaultConfig()
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal %s: %w", ErrInvalidConfig, p.path, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Watch 监视配置文件变更
//
// 监视文件所在目录而非文件本身：编辑器原子写入（写临时文件后
// rename）会让文件级监视丢失事件。取消 ctx 后通道关闭。
func (p *FileProvider) Watch(ctx context.Context) (<-chan ConfigChange, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := fsWatcher.Add(dir); err != nil {
		closeErr := fsWatcher.Close()
		return nil, errors.Join(
			fmt.Errorf("watch directory %s: %w", dir, err),
			closeErr,
		)
	}

	ch := make(chan ConfigChange, 1)
	w := &fileWatcher{
		provider: p,
		watcher:  fsWatcher,
		ch:       ch,
		ctx:      ctx,
	}
	go w.run()

	return ch, nil
}

// fileWatcher 文件监视循环的内部状态
type fileWatcher struct {
	provider *FileProvider
	watcher  *fsnotify.Watcher
	ch       chan ConfigChange
	ctx      context.Context

	mu    sync.Mutex
	timer *time.Timer
}

func (w *fileWatcher) run() {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()

		_ = w.watcher.Close()
		close(w.ch)
	}()

	filename := filepath.Base(w.provider.path)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, filename)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.deliver(ConfigChange{Err: fmt.Errorf("watch error: %w", err)})
		}
	}
}

// handleEvent 处理文件系统事件，防抖后重载
func (w *fileWatcher) handleEvent(event fsnotify.Event, filename string) {
	if filepath.Base(event.Name) != filename {
		return
	}

	// Write: 直接修改；Create/Rename: 编辑器原子写入模式
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.provider.debounce, func() {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		config, err := w.provider.Load()
		if err != nil {
			w.deliver(ConfigChange{Err: err})
			return
		}
		w.deliver(ConfigChange{NewConfig: config})
	})
}

// deliver 非阻塞投递变更事件
//
// 设计决策: 丢弃旧事件保新事件。配置变更是覆盖语义，消费方只
// 需要最新配置；阻塞投递会卡住监视循环，影响后续变更通知。
func (w *fileWatcher) deliver(change ConfigChange) {
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- change:
	default:
	}
}

// configParser 根据扩展名选择解析器
func configParser(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
