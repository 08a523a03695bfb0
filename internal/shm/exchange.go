package shm

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// OrchestratorOwner — идентификатор владельца для сегментов оркестратора.
const OrchestratorOwner = -1

// Ref — ссылка на Return-сегмент: имя и воркер-владелец.
type Ref struct {
	Segment string
	Owner   int
}

// Exchange — обмен большими значениями через именованные сегменты.
//
// Каждый процесс (оркестратор и каждый воркер) имеет свой Exchange.
// Публикации создаёт оркестратор, воркеры читают их по имени через
// процесс-локальный кэш. Return создаёт воркер, оркестратор читает
// его один раз и присылает уведомление об освобождении.
type Exchange struct {
	dir    string
	prefix string
	owner  int

	mu        sync.Mutex
	published map[string]*publication
	returns   map[string]bool // живые Return-сегменты этого участника
	released  map[string]bool
	cache     map[string]any
	seq       int
}

type publication struct {
	path  string
	value any
	pins  int
}

// NewExchange создаёт Exchange.
//
// runID входит в имена сегментов, поэтому параллельные запуски
// не пересекаются. owner — id воркера или OrchestratorOwner.
func NewExchange(dir, runID string, owner int) *Exchange {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Exchange{
		dir:       dir,
		prefix:    "tg-" + runID,
		owner:     owner,
		published: make(map[string]*publication),
		returns:   make(map[string]bool),
		released:  make(map[string]bool),
		cache:     make(map[string]any),
	}
}

// DefaultDir возвращает /dev/shm, если он есть, иначе временную директорию.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Dir возвращает директорию сегментов.
func (e *Exchange) Dir() string {
	return e.dir
}

// Publish сериализует значение в новый сегмент и возвращает его имя.
func (e *Exchange) Publish(name string, value any) (string, error) {
	segment := e.prefix + "-pub-" + sanitize(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.published[segment]; exists || e.released[segment] {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, segment)
	}

	data, err := Encode(value)
	if err != nil {
		return "", err
	}
	path := e.path(segment)
	if err := writeSegment(path, data); err != nil {
		return "", fmt.Errorf("write publication %s: %w", segment, err)
	}

	e.published[segment] = &publication{path: path, value: value}
	return segment, nil
}

// Read возвращает значение публикации.
//
// Первое чтение в процессе отображает сегмент и декодирует его,
// последующие возвращают тот же объект из кэша, пока сегмент существует.
// После освобождения публикации владельцем Read возвращает ErrReleased.
func (e *Exchange) Read(segment string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released[segment] {
		return nil, fmt.Errorf("%w: %s", ErrReleased, segment)
	}
	if pub, ok := e.published[segment]; ok {
		return pub.value, nil
	}
	if v, ok := e.cache[segment]; ok {
		if _, err := os.Stat(e.path(segment)); errors.Is(err, fs.ErrNotExist) {
			delete(e.cache, segment)
			e.released[segment] = true
			return nil, fmt.Errorf("%w: %s", ErrReleased, segment)
		}
		return v, nil
	}

	data, err := readSegment(e.path(segment))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrReleased, segment)
		}
		return nil, fmt.Errorf("read publication %s: %w", segment, err)
	}
	v, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode publication %s: %w", segment, err)
	}
	e.cache[segment] = v
	return v, nil
}

// Pin отмечает, что ещё одна незавершённая задача может читать публикацию.
func (e *Exchange) Pin(segment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pub, ok := e.published[segment]
	if !ok {
		if e.released[segment] {
			return fmt.Errorf("%w: %s", ErrReleased, segment)
		}
		return fmt.Errorf("%w: %s", ErrUnknownSegment, segment)
	}
	pub.pins++
	return nil
}

// Unpin снимает отметку, поставленную Pin.
func (e *Exchange) Unpin(segment string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pub, ok := e.published[segment]; ok && pub.pins > 0 {
		pub.pins--
	}
}

// Release освобождает публикацию.
func (e *Exchange) Release(segment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released[segment] {
		return fmt.Errorf("%w: %s", ErrReleased, segment)
	}
	pub, ok := e.published[segment]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, segment)
	}
	if pub.pins > 0 {
		return fmt.Errorf("%w: %s (%d readers)", ErrInUse, segment, pub.pins)
	}
	return e.unlinkPublication(segment, pub)
}

// Published возвращает имена живых публикаций.
func (e *Exchange) Published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.published))
	for segment := range e.published {
		names = append(names, segment)
	}
	sort.Strings(names)
	return names
}

// CreateReturn кладёт значение в новый Return-сегмент.
func (e *Exchange) CreateReturn(value any) (Ref, error) {
	data, err := Encode(value)
	if err != nil {
		return Ref{}, err
	}
	return e.CreateReturnEncoded(data)
}

// CreateReturnEncoded кладёт уже закодированное значение в Return-сегмент.
func (e *Exchange) CreateReturnEncoded(data []byte) (Ref, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	segment := fmt.Sprintf("%s-ret-%s-%d", e.prefix, ownerTag(e.owner), e.seq)
	if err := writeSegment(e.path(segment), data); err != nil {
		return Ref{}, fmt.Errorf("write return %s: %w", segment, err)
	}
	e.returns[segment] = true
	return Ref{Segment: segment, Owner: e.owner}, nil
}

// ConsumeReturn читает Return-сегмент.
//
// Если сегмент создан этим же участником, он освобождается сразу;
// иначе вызывающий обязан отправить владельцу уведомление об освобождении.
func (e *Exchange) ConsumeReturn(ref Ref) (any, error) {
	data, err := readSegment(e.path(ref.Segment))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrReleased, ref.Segment)
		}
		return nil, fmt.Errorf("read return %s: %w", ref.Segment, err)
	}
	v, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode return %s: %w", ref.Segment, err)
	}

	if ref.Owner == e.owner {
		if err := e.FreeReturn(ref.Segment); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// FreeReturn удаляет Return-сегмент, созданный этим участником.
func (e *Exchange) FreeReturn(segment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released[segment] {
		return fmt.Errorf("%w: %s", ErrReleased, segment)
	}
	if !e.returns[segment] {
		return fmt.Errorf("%w: %s", ErrNotOwner, segment)
	}
	delete(e.returns, segment)
	e.released[segment] = true
	if err := os.Remove(e.path(segment)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove return %s: %w", segment, err)
	}
	return nil
}

// LiveReturns возвращает количество неосвобождённых Return-сегментов.
func (e *Exchange) LiveReturns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.returns)
}

// ReleaseAll освобождает все сегменты этого участника независимо от Pin.
// Вызывается при завершении запуска, в том числе аварийном.
func (e *Exchange) ReleaseAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for segment, pub := range e.published {
		if err := e.unlinkPublication(segment, pub); err != nil {
			errs = append(errs, err)
		}
	}
	for segment := range e.returns {
		delete(e.returns, segment)
		e.released[segment] = true
		if err := os.Remove(e.path(segment)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove return %s: %w", segment, err))
		}
	}
	return errors.Join(errs...)
}

// unlinkPublication удаляет файл публикации. Вызывается под e.mu.
func (e *Exchange) unlinkPublication(segment string, pub *publication) error {
	delete(e.published, segment)
	e.released[segment] = true
	if err := os.Remove(pub.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove publication %s: %w", segment, err)
	}
	return nil
}

func (e *Exchange) path(segment string) string {
	return filepath.Join(e.dir, segment)
}

// envelope нужен, чтобы gob сохранил конкретный тип значения.
type envelope struct {
	V any
}

// Encode сериализует значение. Конкретные типы внутри any должны быть
// зарегистрированы через gob.Register (см. mq.Register).
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{V: value}); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode восстанавливает значение, сериализованное Encode.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return env.V, nil
}

func ownerTag(owner int) string {
	if owner == OrchestratorOwner {
		return "o"
	}
	return fmt.Sprintf("w%d", owner)
}

// sanitize оставляет в имени только безопасные для файловой системы символы.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
