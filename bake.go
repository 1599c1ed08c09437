package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/PunchlY/hotbuild/rig/build"
	"github.com/PunchlY/hotbuild/rig/snapshot"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: `bake`, Use: `Bakes a production build and static assets into a snapshot`, Fn: bakeProject, Parser: parser.New(
			parser.String(&projectDir, `dir`, `d`, `The project directory (default: the working directory)`),
			parser.String(&entryFile, `entry`, `e`, `The entry HTML document relative to the project directory (default: "index.html")`),
			parser.String(&assetDir, `assets`, `a`, `The static asset directory relative to the project directory (default: "public")`),
			parser.String(&outputFile, `output`, `o`, `Where the snapshot is written (default: "snapshot.msgp")`),
		), Settings: zugzug.Settings{
			{Var: &hotbuildEnv, Name: `HOTBUILD_ENV`,
				Use: `Must be "production" for the snapshot to contain anything`},
			{Var: &compressSnapshot, Name: `COMPRESS`,
				Use: `Compresses the snapshot with zstd`},
		}},
	}...)
}

var (
	outputFile       string
	compressSnapshot bool
)

func bakeProject(ctx context.Context) error {
	log := hog.From(ctx)
	if outputFile == `` {
		outputFile = `snapshot.msgp`
	}
	o, err := orchestrator()
	if err != nil {
		return err
	}
	if !o.Production() {
		log.Warn().Msg(`HOTBUILD_ENV is not "production", baking an empty snapshot`)
	}

	e, err := snapshot.Bake(ctx, o)
	if err != nil {
		var failed *build.FailedError
		if errors.As(err, &failed) {
			for _, it := range failed.Diagnostics {
				log.Error().Str(`level`, it.Level).Msg(it.String())
			}
		}
		return err
	}
	err = writeSnapshot(outputFile, e)
	if err != nil {
		return err
	}
	log.Info().Str(`output`, outputFile).Int(`routes`, e.Len()).Bool(`compressed`, compressSnapshot).Msg(`baked snapshot`)
	return nil
}

// writeSnapshot replaces the file at name with the snapshot, never leaving a partial file behind.
func writeSnapshot(name string, e snapshot.Encoded) error {
	f, err := os.CreateTemp(filepath.Dir(name), `.`+filepath.Base(name)+`.*`)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	err = snapshot.Write(f, e, compressSnapshot)
	if err != nil {
		_ = f.Close()
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}
