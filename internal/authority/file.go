package authority

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// grantsFile is the on-disk shape of an authority file:
//
//	actors:
//	  alice: [admin]
//	  bob: [admin, dual_control_approver]
type grantsFile struct {
	Actors map[string][]string `yaml:"actors"`
}

// FileOracle serves capability grants from a YAML file and reloads it when
// the file changes.
type FileOracle struct {
	path   string
	mu     sync.RWMutex
	grants map[string][]domain.Capability
}

// NewFileOracle loads path once. Call Watch to keep it current.
func NewFileOracle(path string) (*FileOracle, error) {
	o := &FileOracle{path: path}
	if err := o.Reload(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *FileOracle) Capabilities(_ context.Context, actorID string) ([]domain.Capability, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	caps := o.grants[actorID]
	out := make([]domain.Capability, len(caps))
	copy(out, caps)
	return out, nil
}

// Reload re-reads the file. On error the previous grants stay in force.
func (o *FileOracle) Reload() error {
	raw, err := os.ReadFile(o.path)
	if err != nil {
		return fmt.Errorf("read authority file: %w", err)
	}
	var parsed grantsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse authority file %s: %w", o.path, err)
	}

	grants := make(map[string][]domain.Capability, len(parsed.Actors))
	for actor, caps := range parsed.Actors {
		for _, c := range caps {
			switch capability := domain.Capability(c); capability {
			case domain.CapabilityAdministrative, domain.CapabilityDualControlApprover:
				grants[actor] = append(grants[actor], capability)
			default:
				return fmt.Errorf("authority file %s: unknown capability %q for %s", o.path, c, actor)
			}
		}
	}

	o.mu.Lock()
	o.grants = grants
	o.mu.Unlock()
	return nil
}

// Watch reloads the file on change until ctx is done. The parent directory is
// watched so atomic rename-on-save editors are picked up.
func (o *FileOracle) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(o.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %q: %w", o.path, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		target := filepath.Clean(o.path)
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(200*time.Millisecond, func() {
						if err := o.Reload(); err != nil {
							zap.L().Error("authority reload failed", zap.String("path", o.path), zap.Error(err))
							return
						}
						zap.L().Info("authority file reloaded", zap.String("path", o.path))
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zap.L().Warn("authority file watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
