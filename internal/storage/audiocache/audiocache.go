// Пакет audiocache — локальный кэш скачанного аудио на диске.
// Один файл на пару (license id, instance id), имя детерминировано:
// наличие файла — единственный признак «закэшировано», индекса нет.
// Запись: temp файл → запись + SHA-256 → fsync → atomic rename,
// поэтому по пути кэша никогда не бывает частично записанного файла.
package audiocache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// fileExt — расширение файлов кэша
	fileExt = ".audio"
	// tmpExt — расширение незавершённых записей
	tmpExt = ".tmp"
)

// Cache — управление файлами кэша аудио.
type Cache struct {
	// dir — корневая директория кэша (LE_CACHE_DIR)
	dir string
}

// SaveResult — результат сохранения файла в кэш.
type SaveResult struct {
	// Path — абсолютный путь файла в кэше
	Path string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// Entry — файл в кэше.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// New создаёт кэш в директории dir. Создаёт директорию, если её нет,
// и удаляет временные файлы, оставшиеся от прерванных загрузок.
// Возвращает кэш и число удалённых временных файлов.
func New(dir string) (*Cache, int, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, 0, fmt.Errorf("не удалось создать директорию кэша %s: %w", dir, err)
	}

	c := &Cache{dir: dir}
	swept, err := c.sweepTemp()
	if err != nil {
		return nil, 0, err
	}
	return c, swept, nil
}

// Dir возвращает путь к директории кэша.
func (c *Cache) Dir() string {
	return c.dir
}

// FileName возвращает детерминированное имя файла для лицензии.
// Формат: {id}_{instanceID}.audio. Байты вне [A-Za-z0-9.-], включая
// разделитель "_", кодируются как %XX, поэтому разные пары
// (id, instanceID) никогда не получают одно имя.
func FileName(licenseID, instanceID string) string {
	return escapePart(licenseID) + "_" + escapePart(instanceID) + fileExt
}

// Path возвращает путь файла в кэше. Не проверяет существование.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, name)
}

// Exists проверяет наличие файла в кэше (один stat).
func (c *Cache) Exists(name string) bool {
	info, err := os.Stat(c.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Open открывает файл кэша для чтения. Вызывающий код обязан закрыть файл.
// Отсутствующий файл — ошибка, удовлетворяющая errors.Is(err, fs.ErrNotExist).
func (c *Cache) Open(name string) (*os.File, error) {
	f, err := os.Open(c.Path(name))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла кэша %s: %w", name, err)
	}
	return f, nil
}

// Save атомарно записывает файл name. write получает writer временного файла;
// при ошибке write временный файл удаляется, путь кэша не затрагивается.
func (c *Cache) Save(name string, write func(w io.Writer) (int64, error)) (*SaveResult, error) {
	fullPath := c.Path(name)
	// Уникальное имя temp файла: параллельные записи не пересекаются
	tmpPath := fmt.Sprintf("%s.%s%s", fullPath, uuid.New().String()[:8], tmpExt)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := write(io.MultiWriter(f, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Path:     fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Delete удаляет файл из кэша. Возвращает nil, если файла нет.
func (c *Cache) Delete(name string) error {
	err := os.Remove(c.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Entries возвращает файлы кэша, отсортированные по имени.
// Незавершённые записи (*.tmp) не входят в кэш.
func (c *Cache) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории кэша: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || strings.HasSuffix(de.Name(), tmpExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Size возвращает суммарный размер файлов кэша в байтах.
func (c *Cache) Size() (int64, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, nil
}

// Clear удаляет все файлы кэша. Незавершённые записи не трогает:
// их удалит владелец при ошибке или sweep при следующем запуске.
// Возвращает число удалённых файлов.
func (c *Cache) Clear() (int, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, err
	}

	var removed int
	var errs []error
	for _, e := range entries {
		if err := c.Delete(e.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// CheckWritable проверяет, что в директорию кэша можно писать.
func (c *Cache) CheckWritable() error {
	f, err := os.CreateTemp(c.dir, ".probe-*"+tmpExt)
	if err != nil {
		return fmt.Errorf("директория кэша недоступна для записи: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// sweepTemp удаляет временные файлы прерванных загрузок.
func (c *Cache) sweepTemp() (int, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+tmpExt))
	if err != nil {
		return 0, fmt.Errorf("ошибка поиска временных файлов: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("ошибка удаления временного файла %s: %w", m, err)
		}
	}
	return len(matches), nil
}

// escapePart кодирует байты вне [A-Za-z0-9.-] как %XX (верхний регистр).
func escapePart(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var result strings.Builder
	result.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') ||
			(b >= '0' && b <= '9') || b == '-' || b == '.' {
			result.WriteByte(b)
			continue
		}
		result.WriteByte('%')
		result.WriteByte(hexDigits[b>>4])
		result.WriteByte(hexDigits[b&0x0F])
	}
	return result.String()
}
