package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownCommand dispatch 接口收到未注册的命令
var ErrUnknownCommand = errors.New("unknown command")

var registry = map[string]func() Command{}

func register(fn func() Command) {
	registry[fn().Name()] = fn
}

func init() {
	register(func() Command { return &NewProject{} })
	register(func() Command { return &UpdateProject{} })
	register(func() Command { return &SetPlayhead{} })
	register(func() Command { return &SetPlaying{} })
	register(func() Command { return &AdvancePlayhead{} })
	register(func() Command { return &SetZoom{} })
	register(func() Command { return &SetSnap{} })
	register(func() Command { return &AddTrack{} })
	register(func() Command { return &RemoveTrack{} })
	register(func() Command { return &UpdateTrack{} })
	register(func() Command { return &ReorderTracks{} })
	register(func() Command { return &AddClip{} })
	register(func() Command { return &UpdateClip{} })
	register(func() Command { return &TrimClip{} })
	register(func() Command { return &SplitClip{} })
	register(func() Command { return &SplitAtPlayhead{} })
	register(func() Command { return &DuplicateClip{} })
	register(func() Command { return &MoveClip{} })
	register(func() Command { return &DeleteClips{} })
	register(func() Command { return &SelectClip{} })
	register(func() Command { return &ToggleClipSelection{} })
	register(func() Command { return &ClearSelection{} })
	register(func() Command { return &AddMarker{} })
	register(func() Command { return &RemoveMarker{} })
	register(func() Command { return &UpdateMarker{} })
}

// DecodeCommand builds the named command from its JSON payload. An empty
// payload yields the zero command.
func DecodeCommand(name string, payload json.RawMessage) (Command, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	ptr := fn()
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, ptr); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
	}
	return deref(ptr), nil
}

// CommandNames 已注册的命令名（排序）
func CommandNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// deref 命令以值类型实现接口，注册表里保存的是指针
func deref(c Command) Command {
	switch v := c.(type) {
	case *NewProject:
		return *v
	case *UpdateProject:
		return *v
	case *SetPlayhead:
		return *v
	case *SetPlaying:
		return *v
	case *AdvancePlayhead:
		return *v
	case *SetZoom:
		return *v
	case *SetSnap:
		return *v
	case *AddTrack:
		return *v
	case *RemoveTrack:
		return *v
	case *UpdateTrack:
		return *v
	case *ReorderTracks:
		return *v
	case *AddClip:
		return *v
	case *UpdateClip:
		return *v
	case *TrimClip:
		return *v
	case *SplitClip:
		return *v
	case *SplitAtPlayhead:
		return *v
	case *DuplicateClip:
		return *v
	case *MoveClip:
		return *v
	case *DeleteClips:
		return *v
	case *SelectClip:
		return *v
	case *ToggleClipSelection:
		return *v
	case *ClearSelection:
		return *v
	case *AddMarker:
		return *v
	case *RemoveMarker:
		return *v
	case *UpdateMarker:
		return *v
	}
	return c
}
