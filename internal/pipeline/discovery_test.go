package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_SortsNumericallyAndParsesNames(t *testing.T) {
	root := t.TempDir()
	makeEquipment(t, root, "古代_长剑", "100")
	makeEquipment(t, root, "皮甲", "20")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme_1"), []byte("x"), 0644))

	items, err := Discover(root, "weapon")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "20", items[0].EquipmentID)
	assert.Equal(t, "皮甲", items[0].EquipmentName)
	assert.Equal(t, "100", items[1].EquipmentID)
	assert.Equal(t, "古代_长剑", items[1].EquipmentName)
	assert.Equal(t, "weapon", items[1].EquipmentType)
	require.Len(t, items[1].ImagePaths, 2)
	assert.Contains(t, items[1].ImagePaths[0], "h0_p0")
	assert.Contains(t, items[1].ImagePaths[1], "h180_p0")
}

func TestDiscover_FallbackImages(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "帽子_7")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range []string{"e.webp", "a.jpg", "b.PNG", "c.jpeg", "d.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("img"), 0644))
	}

	items, err := Discover(root, "hat")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "c.jpeg"),
		filepath.Join(dir, "d.png"),
	}, items[0].ImagePaths)
}

func TestDiscover_InputValidation(t *testing.T) {
	var ive *InputValidationError

	_, err := Discover(filepath.Join(t.TempDir(), "missing"), "x")
	assert.ErrorAs(t, err, &ive)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = Discover(file, "x")
	assert.ErrorAs(t, err, &ive)

	empty := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(empty, "no-id-here"), 0755))
	_, err = Discover(empty, "x")
	assert.ErrorAs(t, err, &ive)
}
