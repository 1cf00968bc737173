package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"commentbox/app/models"
	"commentbox/app/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
)

func (c *cli) postIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "post-id <path>",
		Short: "Print the post id derived from a page path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), models.PostIDFromPath(args[0]))
			return nil
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "list <postId>",
		Short: "Print the comments of a post from the comments file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := repositories.NewJSONFileRepository(c.jsonFilePath(file))
			comments, err := repo.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), comments)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "comments file (overrides jsonfile.path)")
	return cmd
}

func (c *cli) addCommand() *cobra.Command {
	var file, author, content string
	cmd := &cobra.Command{
		Use:   "add <postId>",
		Short: "Add a comment to the comments file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment := &models.Comment{Author: author, Content: content, PostID: args[0]}
			comment.Normalize()
			if err := comment.Validate(); err != nil {
				return err
			}

			repo := repositories.NewJSONFileRepository(c.jsonFilePath(file))
			if err := repo.Add(cmd.Context(), models.Page{PostID: args[0]}, comment); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), comment)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "comments file (overrides jsonfile.path)")
	cmd.Flags().StringVar(&author, "author", "", "comment author")
	cmd.Flags().StringVar(&content, "content", "", "comment text")
	cmd.MarkFlagRequired("author")
	cmd.MarkFlagRequired("content")
	return cmd
}

func (c *cli) jsonFilePath(flag string) string {
	if flag != "" {
		return flag
	}
	return c.cfg.JSONFile.Path
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) dbCommand() *cobra.Command {
	var yes bool
	db := &cobra.Command{
		Use:   "db",
		Short: "Maintain the local Badger store",
	}
	db.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	backupCmd := &cobra.Command{
		Use:   "backup [file]",
		Short: "Create a backup of the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			return backup(cmd.OutOrStdout(), c.cfg.Local.Path, file)
		},
	}
	restoreCmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore the database from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return restore(cmd.InOrStdin(), cmd.OutOrStdout(), c.cfg.Local.Path, args[0], yes)
		},
	}
	postsCmd := &cobra.Command{
		Use:   "posts",
		Short: "List post ids with comments in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPosts(cmd.Context(), cmd.OutOrStdout(), c.cfg.Local.Path)
		},
	}
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clean(cmd.InOrStdin(), cmd.OutOrStdout(), c.cfg.Local.Path, yes)
		},
	}

	db.AddCommand(backupCmd, restoreCmd, postsCmd, cleanCmd)
	return db
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

func openExisting(dbPath string) (*badger.DB, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no database exists at %s", dbPath)
	}
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// clean removes the database.
func clean(in io.Reader, out io.Writer, dbPath string, yes bool) error {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "Database is already clean (does not exist)")
		return nil
	}

	if !yes && !confirm(in, out, "Are you sure you want to clean the database? This cannot be undone.") {
		fmt.Fprintln(out, "Operation cancelled")
		return nil
	}

	if err := os.RemoveAll(dbPath); err != nil {
		return fmt.Errorf("failed to clean database: %w", err)
	}
	fmt.Fprintln(out, "Database cleaned successfully")
	return nil
}

// backup creates a backup of the database. An empty file picks a
// timestamped name next to the database.
func backup(out io.Writer, dbPath, backupFile string) error {
	db, err := openExisting(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if backupFile == "" {
		backupDir := filepath.Join(filepath.Dir(dbPath), "backups")
		if err := os.MkdirAll(backupDir, 0755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
		backupFile = filepath.Join(backupDir, fmt.Sprintf("backup_%d.db", time.Now().Unix()))
	}

	f, err := os.Create(backupFile)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	if _, err := db.Backup(f, 0); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}

	fmt.Fprintf(out, "Database backed up successfully to %s\n", backupFile)
	return nil
}

// restore restores the database from a backup.
func restore(in io.Reader, out io.Writer, dbPath, backupFile string, yes bool) (err error) {
	fi, err := os.Stat(backupFile)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup file does not exist: %s", backupFile)
	}
	if err != nil {
		return fmt.Errorf("failed to stat backup file: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("backup file is empty: %s", backupFile)
	}

	if _, err := os.Stat(dbPath); err == nil {
		if !yes && !confirm(in, out, "Existing database found. Do you want to replace it?") {
			fmt.Fprintln(out, "Operation cancelled")
			return nil
		}
		if err := os.RemoveAll(dbPath); err != nil {
			return fmt.Errorf("failed to remove existing database: %w", err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	f, err := os.Open(backupFile)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred during restore: %v", r)
		}
	}()
	if err := db.Load(f, 4); err != nil {
		return fmt.Errorf("failed to restore database: %w", err)
	}

	fmt.Fprintln(out, "Database restored successfully")
	return nil
}

// listPosts prints every post id that has comments in either key space.
func listPosts(ctx context.Context, out io.Writer, dbPath string) error {
	db, err := openExisting(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, prefix := range []string{repositories.LocalKeyPrefix, repositories.FallbackKeyPrefix} {
		ids, err := repositories.NewLocalRepository(db, prefix).Posts(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintf(out, "%s%s\n", prefix, id)
		}
	}
	return nil
}
