package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/mushcode/pkg/archive"
	"github.com/crystal-mush/mushcode/pkg/boltstore"
	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/eval/functions"
	"github.com/crystal-mush/mushcode/pkg/flatfile"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/validate"
)

func main() {
	worldPath := flag.String("world", "", "YAML world file to import")
	flatPath := flag.String("flatfile", "", "TinyMUSH flatfile to import instead of a YAML world")
	comsysPath := flag.String("comsys", "", "mod_comsys.db whose channels join the import")
	dbPath := flag.String("db", "game.bolt", "bbolt database file")
	force := flag.Bool("force", false, "Import even if the database already holds objects")
	showObj := flag.Int("obj", -1, "Show details for a specific object by dbref")
	export := flag.String("export", "", "Write the database back out as a YAML world")
	exportFlat := flag.String("export-flatfile", "", "Write the database back out as a TinyMUSH flatfile")
	backup := flag.String("backup", "", "Write a consistent copy of the bbolt file")
	archiveDir := flag.String("archive", "", "Write a .tar.gz of the bolt file and world into this directory")
	restore := flag.String("restore", "", "Restore the bolt file from an archive before anything else")
	listDir := flag.String("list-archives", "", "List the archives in a directory and exit")
	lint := flag.Bool("validate", false, "Check softcode, locks and references")
	report := flag.String("report", "", "Write the validation report as JSON (implies -validate)")
	fix := flag.Bool("fix", false, "Apply every fixable validation finding (implies -validate)")
	flag.Parse()

	if *report != "" || *fix {
		*lint = true
	}
	if *listDir != "" {
		if err := listArchives(*listDir); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *worldPath != "" && *flatPath != "" {
		fmt.Fprintln(os.Stderr, "ERROR: -world and -flatfile are mutually exclusive")
		os.Exit(1)
	}
	importing := *worldPath != "" || *flatPath != ""
	if !importing && *showObj < 0 && *export == "" && *exportFlat == "" && *backup == "" && *archiveDir == "" && *restore == "" && !*lint {
		fmt.Fprintln(os.Stderr, "Usage: dbloader [-world <world.yaml> | -flatfile <netmush.db>] [-db <game.bolt>] [options]")
		fmt.Fprintln(os.Stderr, "  -comsys <f>    Merge channels from a mod_comsys.db")
		fmt.Fprintln(os.Stderr, "  -force         Overwrite a non-empty database")
		fmt.Fprintln(os.Stderr, "  -obj <dbref>   Show object details")
		fmt.Fprintln(os.Stderr, "  -export <f>    Export the database as YAML")
		fmt.Fprintln(os.Stderr, "  -export-flatfile <f>  Export the database as a flatfile")
		fmt.Fprintln(os.Stderr, "  -backup <f>    Copy the bbolt file")
		fmt.Fprintln(os.Stderr, "  -archive <dir> Archive the bolt file and world")
		fmt.Fprintln(os.Stderr, "  -restore <f>   Restore the bolt file from an archive")
		fmt.Fprintln(os.Stderr, "  -list-archives <dir>  List archives")
		fmt.Fprintln(os.Stderr, "  -validate      Lint the database")
		fmt.Fprintln(os.Stderr, "  -report <f>    Write the lint report as JSON")
		fmt.Fprintln(os.Stderr, "  -fix           Apply fixable lint findings")
		os.Exit(1)
	}

	if *restore != "" {
		if _, err := os.Stat(*dbPath); err == nil && !*force {
			fmt.Fprintf(os.Stderr, "ERROR: %s exists (use -force to replace it)\n", *dbPath)
			os.Exit(1)
		}
		res, err := archive.Restore(archive.RestoreParams{ArchivePath: *restore, BoltDest: *dbPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Restored %s from %s (%d objects, %s)\n\n", *dbPath, *restore, res.Manifest.Objects, res.Manifest.Timestamp)
	}

	store, err := boltstore.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if importing {
		if store.HasData() && !*force {
			fmt.Fprintf(os.Stderr, "ERROR: %s already holds objects (use -force)\n", *dbPath)
			os.Exit(1)
		}
		start := time.Now()
		db, err := loadSource(*worldPath, *flatPath, *comsysPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		if err := store.Import(db); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported in %v\n\n", time.Since(start))
	} else if err := store.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	printSummary(store.DB())

	if *showObj >= 0 {
		fmt.Println()
		printObject(store.DB(), gamedb.DBRef(*showObj))
	}

	if *lint {
		fmt.Println()
		if err := runValidation(store, *report, *fix); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	}

	if *export != "" {
		data, err := yaml.Marshal(gamedb.ToWorld(store.DB()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: encoding world: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*export, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nExported to %s\n", *export)
	}

	if *exportFlat != "" {
		if err := flatfile.Save(*exportFlat, store.DB()); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nExported flatfile to %s\n", *exportFlat)
	}

	if *backup != "" {
		if err := store.Backup(*backup); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	}

	if *archiveDir != "" {
		objs, _ := store.DB().Snapshot()
		path, err := archive.Create(archive.Params{
			Snapshot:  store.Backup,
			WorldPath: *worldPath,
			Dir:       *archiveDir,
			Server:    "dbloader",
			Objects:   len(objs),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nArchived to %s\n", path)
	}
}

func listArchives(dir string) error {
	list, err := archive.List(dir)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No archives in %s\n", dir)
		return nil
	}
	for _, a := range list {
		fmt.Printf("%-25s %8d objects %10d bytes  %s\n", a.Timestamp, a.Objects, a.Size, a.Path)
	}
	return nil
}

// loadSource reads the world to import: a YAML world or a flatfile, plus
// any comsys channels.
func loadSource(worldPath, flatPath, comsysPath string) (*gamedb.Database, error) {
	var db *gamedb.Database
	var err error
	if flatPath != "" {
		fmt.Printf("Loading flatfile: %s\n", flatPath)
		db, err = flatfile.Load(flatPath)
	} else {
		fmt.Printf("Loading world: %s\n", worldPath)
		db, err = gamedb.LoadWorldFile(worldPath)
	}
	if err != nil {
		return nil, err
	}
	if comsysPath == "" {
		return db, nil
	}
	f, err := os.Open(comsysPath)
	if err != nil {
		return nil, fmt.Errorf("open comsys: %w", err)
	}
	defer f.Close()
	channels, err := flatfile.ParseComsys(f)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		db.AddChannel(ch)
	}
	fmt.Printf("Merged %d channels from %s\n", len(channels), comsysPath)
	return db, nil
}

func runValidation(store *boltstore.Store, reportPath string, fix bool) error {
	funcs := eval.NewRegistry()
	functions.RegisterAll(funcs)
	v := validate.New(store.DB(), funcs)
	findings := v.Run()

	fmt.Println("=== VALIDATION ===")
	for _, f := range findings {
		fmt.Printf("[%s] %-17s %s\n", f.Severity, f.Category, f.Description)
	}
	sum := v.Summary()
	cats := make([]validate.Category, 0, len(sum))
	for c := range sum {
		cats = append(cats, c)
	}
	slices.Sort(cats)
	fmt.Printf("Findings: %d\n", len(findings))
	for _, c := range cats {
		fmt.Printf("  %-36s %d\n", c.Label(), sum[c])
	}

	if fix {
		ctx := context.Background()
		total := 0
		for _, c := range cats {
			n, err := v.ApplyAll(ctx, store, c)
			total += n
			if err != nil {
				return err
			}
		}
		fmt.Printf("Fixed: %d\n", total)
	}

	if reportPath != "" {
		f, err := os.Create(reportPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := validate.GenerateReport(v).WriteJSON(f); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportPath)
	}
	return nil
}

func printSummary(db *gamedb.Database) {
	objs, chans := db.Snapshot()
	counts := make(map[gamedb.ObjectType]int)
	attrs, locks := 0, 0
	lockAttrs := make(map[string]bool)
	for _, a := range gamedb.LockAttrs {
		lockAttrs[a] = true
	}
	for _, o := range objs {
		counts[o.Type]++
		for name := range o.Attrs {
			if lockAttrs[name] {
				locks++
			} else {
				attrs++
			}
		}
	}

	fmt.Println("=== DATABASE SUMMARY ===")
	fmt.Printf("Objects:    %d\n", len(objs))
	types := make([]gamedb.ObjectType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Printf("  %-8s  %d\n", t, counts[t])
	}
	fmt.Printf("Attributes: %d\n", attrs)
	fmt.Printf("Locks:      %d\n", locks)
	fmt.Printf("Channels:   %d\n", len(chans))
}

func printObject(db *gamedb.Database, ref gamedb.DBRef) {
	obj, err := db.Object(context.Background(), ref)
	if err != nil {
		fmt.Printf("Object #%d: %v\n", ref, err)
		return
	}
	fmt.Printf("=== OBJECT #%d ===\n", ref)
	fmt.Printf("Name:     %s\n", obj.Name)
	fmt.Printf("Type:     %s\n", obj.Type)
	fmt.Printf("Owner:    #%d\n", obj.Owner)
	fmt.Printf("Location: #%d\n", obj.Location)
	fmt.Printf("Parent:   #%d\n", obj.Parent)
	fmt.Printf("Zone:     #%d\n", obj.Zone)
	fmt.Printf("Flags:    %v\n", obj.FlagNames())
	names := obj.AttrNames()
	fmt.Printf("Attributes (%d):\n", len(names))
	for _, name := range names {
		fmt.Printf("  %-16s %s\n", name, truncate(obj.Attrs[name], 100))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
