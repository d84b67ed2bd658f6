package pipeline

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"lexicon-go/internal/model"
	"lexicon-go/pkg/log"
)

// 子目录命名为 "<名称>_<ID>"，名称本身可以包含下划线。
var equipmentDirRe = regexp.MustCompile(`^(.+?)_(\d+)$`)

const (
	frontImageGlob = "*h0_p0.png"
	backImageGlob  = "*h180_p0.png"
	// 找不到正反面图片时最多取这么多张
	maxFallbackImages = 4
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Discover 枚举根目录下的装备子目录，按 ID 排序返回。
func Discover(root, equipmentType string) ([]model.EquipmentItem, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &InputValidationError{Path: root, Reason: err.Error()}
	}
	if !info.IsDir() {
		return nil, &InputValidationError{Path: root, Reason: "not a directory"}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &InputValidationError{Path: root, Reason: err.Error()}
	}

	var items []model.EquipmentItem
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := equipmentDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			log.Warnf("[Discover] 跳过命名不符合 <名称>_<ID> 的目录: %s", e.Name())
			continue
		}
		dir := filepath.Join(root, e.Name())
		items = append(items, model.EquipmentItem{
			EquipmentID:   m[2],
			EquipmentName: m[1],
			EquipmentType: equipmentType,
			Dir:           dir,
			ImagePaths:    findImages(dir),
		})
	}
	if len(items) == 0 {
		return nil, &InputValidationError{Path: root, Reason: "no <name>_<id> subdirectories found"}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return model.CompareIDs(items[i].EquipmentID, items[j].EquipmentID) < 0
	})
	return items, nil
}

// findImages 优先取正面、背面两张渲染图，否则按文件名取前几张图片。
func findImages(dir string) []string {
	var paths []string
	for _, pattern := range []string{frontImageGlob, backImageGlob} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		if len(matches) > 0 {
			sort.Strings(matches)
			paths = append(paths, matches[0])
		}
	}
	if len(paths) > 0 {
		return paths
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
		if len(paths) == maxFallbackImages {
			break
		}
	}
	return paths
}
