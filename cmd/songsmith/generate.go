package main

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/jonathan/songsmith/internal/db"
	"github.com/jonathan/songsmith/internal/pipeline"
	"github.com/jonathan/songsmith/internal/workflow"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Queue one song and wait for its generation to finish",
	Long:  `Queue a song for the given user, run the generation job and block until it reaches a terminal state. Useful for smoke testing a deployment.`,
	RunE:  runGenerate,
}

var (
	genConfigPath        string
	genUserID            string
	genPrompt            string
	genLyrics            string
	genFullDescribedSong string
	genDescribedLyrics   string
	genInstrumental      bool
)

func init() {
	generateCmd.Flags().StringVar(&genConfigPath, "config", "", "Path to config.json file (environment values take precedence)")
	generateCmd.Flags().StringVarP(&genUserID, "user", "u", "", "User ID to queue the song for")
	generateCmd.Flags().StringVar(&genPrompt, "prompt", "", "Style prompt")
	generateCmd.Flags().StringVar(&genLyrics, "lyrics", "", "Exact lyrics to sing")
	generateCmd.Flags().StringVar(&genFullDescribedSong, "description", "", "Full song description")
	generateCmd.Flags().StringVar(&genDescribedLyrics, "described-lyrics", "", "Description of lyrics to write")
	generateCmd.Flags().BoolVar(&genInstrumental, "instrumental", false, "Generate without vocals")
	_ = generateCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(genConfigPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	guidance := 15.0
	duration := 180.0
	input := &db.CreateSongInput{
		UserID:            genUserID,
		Title:             deriveTitle(genDescribedLyrics, genFullDescribedSong),
		Instrumental:      genInstrumental,
		GuidanceScale:     &guidance,
		AudioDuration:     &duration,
		Prompt:            optionalString(genPrompt),
		Lyrics:            optionalString(genLyrics),
		FullDescribedSong: optionalString(genFullDescribedSong),
		DescribedLyrics:   optionalString(genDescribedLyrics),
	}

	song, err := a.db.CreateSong(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create song: %w", err)
	}
	a.logger.Info("song queued", "song_id", song.ID, "title", song.Title)

	handle, err := a.engine.Dispatch(ctx, pipeline.JobGenerateSong, workflow.Trigger{
		SongID: song.ID,
		UserID: song.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch generation: %w", err)
	}

	if err := handle.Wait(ctx); err != nil {
		return fmt.Errorf("generation run failed: %w", err)
	}

	final, err := a.db.GetSong(ctx, song.ID)
	if err != nil {
		return fmt.Errorf("failed to reload song: %w", err)
	}
	a.logger.Info("generation finished", "song_id", final.ID, "status", final.Status)
	fmt.Printf("%s\t%s\n", final.ID, final.Status)
	return nil
}

func deriveTitle(describedLyrics, fullDescribedSong string) string {
	title := "Untitled"
	if describedLyrics != "" {
		title = describedLyrics
	}
	if fullDescribedSong != "" {
		title = fullDescribedSong
	}
	first, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(first)) + title[size:]
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
