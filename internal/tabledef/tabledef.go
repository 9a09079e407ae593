// Package tabledef loads table definitions, optionally with seed rows, from
// YAML files and imports them into a store.
package tabledef

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/moritzWa/deeptable/internal/category"
	"github.com/moritzWa/deeptable/internal/model"
	"github.com/moritzWa/deeptable/internal/store"
)

// Definition is one table file.
type Definition struct {
	Table model.Table      `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// Load reads a definition from path, fills in defaults and validates it.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabledef: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a definition from YAML, fills in defaults and validates it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, eris.Wrap(err, "tabledef: parse")
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slug derives a column id from its display name.
func slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// applyDefaults derives missing column ids from names and gives uncolored
// select items palette colors in order.
func (d *Definition) applyDefaults() {
	for i := range d.Table.Columns {
		c := &d.Table.Columns[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.ID == "" {
			c.ID = slug(c.Name)
		}
		if c.AdditionalTypeInformation == nil {
			continue
		}
		items := c.AdditionalTypeInformation.SelectItems
		for j := range items {
			items[j].Name = strings.TrimSpace(items[j].Name)
			if items[j].Color == "" {
				items[j].Color = category.Palette[j%len(category.Palette)]
			}
		}
	}
}

// Validate checks the table and that every row only uses known columns.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Table.Name) == "" {
		return eris.New("tabledef: table name is required")
	}
	if len(d.Table.Columns) == 0 {
		return eris.Errorf("tabledef: table %q has no columns", d.Table.Name)
	}

	ids := make(map[string]bool, len(d.Table.Columns))
	for _, c := range d.Table.Columns {
		if c.ID == "" {
			return eris.Errorf("tabledef: column %q needs an id", c.Name)
		}
		if ids[c.ID] {
			return eris.Errorf("tabledef: duplicate column id %q", c.ID)
		}
		ids[c.ID] = true
		if err := c.Validate(); err != nil {
			return eris.Wrapf(err, "tabledef: column %q", c.ID)
		}
	}

	for i, row := range d.Rows {
		for k := range row {
			if !ids[k] {
				return eris.Errorf("tabledef: row %d uses unknown column %q", i+1, k)
			}
		}
	}
	return nil
}

// Import saves the table and appends the definition's rows to it.
func Import(ctx context.Context, st store.Store, d *Definition) (*model.Table, []model.Row, error) {
	tbl := d.Table
	if err := st.SaveTable(ctx, &tbl); err != nil {
		return nil, nil, eris.Wrap(err, "tabledef: save table")
	}
	if len(d.Rows) == 0 {
		return &tbl, nil, nil
	}
	rows, err := st.CreateRows(ctx, tbl.ID, d.Rows)
	if err != nil {
		return nil, nil, eris.Wrap(err, "tabledef: create rows")
	}
	return &tbl, rows, nil
}
