package scan

import (
	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/mq"
	"github.com/shaiso/taskgraph/internal/worker"
)

// Имена задач и функций конвейера.
const (
	WalkTask     = "scan.walk"
	FilePrefix   = "scan.file."
	ManifestTask = "manifest.write"

	funcWalk     = "scan.walk"
	funcHash     = "scan.hash"
	funcManifest = "manifest.write"

	lookupName = "scan.lookup"
)

// Entry — запись манифеста об одном файле.
type Entry struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"` // unix nano
	Hash    string `json:"xxhash"`

	// Reused — хэш взят из прошлого манифеста, файл не читался.
	Reused bool `json:"-"`
}

// Manifest — содержимое файла манифеста, записи отсортированы по Path.
type Manifest struct {
	Files []Entry `json:"files"`
}

// Summary — результат задачи manifest.write.
type Summary struct {
	Files  int
	Hashed int
	Reused int
}

// walkParam — параметр scan.walk.
type walkParam struct {
	Root     string
	Manifest string
}

// walkResult — результат scan.walk.
type walkResult struct {
	Files  int
	Lookup string
}

// hashParam — параметр задачи хэширования одного файла.
type hashParam struct {
	Root    string
	Rel     string
	Size    int64
	ModTime int64
	Lookup  string
}

func init() {
	mq.Register(Entry{})
	mq.Register(map[string]Entry{})
	mq.Register(Summary{})
	mq.Register(walkParam{})
	mq.Register(walkResult{})
	mq.Register(hashParam{})
}

// Register добавляет функции конвейера в реестр.
// Реестр оркестратора и воркеров должен быть одинаковым.
func Register(reg *worker.Registry) {
	reg.Register(funcWalk, walk)
	reg.Register(funcHash, hashFile)
	reg.Register(funcManifest, writeManifest)
}

// Tasks возвращает начальные задачи для сканирования root
// с записью манифеста в manifest.
func Tasks(root, manifest string) []domain.Task {
	return []domain.Task{
		{
			Name:  WalkTask,
			Func:  funcWalk,
			Param: walkParam{Root: root, Manifest: manifest},
			Own:   true,
		},
		{
			Name:         ManifestTask,
			Func:         funcManifest,
			Param:        manifest,
			Own:          true,
			Dependencies: []string{WalkTask, domain.Wildcard(FilePrefix)},
		},
	}
}
