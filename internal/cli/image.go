package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/duckmemory/duckmem/internal/contextbuilder"
	"github.com/duckmemory/duckmem/internal/store"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Record and search received images",
}

var (
	imageSender      string
	imageRelation    string
	imageDescription string
	imagePeople      []string
	imageCategories  []string
	imageLimit       int
)

var imageAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Record an analysed image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			id, err := rt.store.SaveImage(cmd.Context(), store.ImageRecord{
				FilePath:       args[0],
				Sender:         imageSender,
				SenderRelation: imageRelation,
				Description:    imageDescription,
				People:         imagePeople,
				Categories:     imageCategories,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s image %d saved\n", check(true), id)
			return nil
		})
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent images",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			imgs, err := rt.store.RecentImages(cmd.Context(), imageLimit)
			if err != nil {
				return err
			}
			printImages(cmd.OutOrStdout(), imgs)
			return nil
		})
	},
}

var imageSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search images by description, sender, category or person",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			imgs, err := rt.store.SearchImages(cmd.Context(), args[0], imageLimit)
			if err != nil {
				return err
			}
			for _, img := range imgs {
				if err := rt.store.TouchImage(cmd.Context(), img.ID); err != nil {
					return err
				}
			}
			printImages(cmd.OutOrStdout(), imgs)
			return nil
		})
	},
}

func printImages(out io.Writer, imgs []store.ImageRecord) {
	now := time.Now()
	for _, img := range imgs {
		fmt.Fprintf(out, "#%d %s\n  %s\n", img.ID, img.FilePath, contextbuilder.FormatImage(img, now))
	}
}

func init() {
	imageAddCmd.Flags().StringVar(&imageSender, "sender", "", "Who sent the image")
	imageAddCmd.Flags().StringVar(&imageRelation, "relation", "", "Sender's relation")
	imageAddCmd.Flags().StringVar(&imageDescription, "description", "", "What the image shows")
	imageAddCmd.Flags().StringSliceVar(&imagePeople, "people", nil, "People in the image")
	imageAddCmd.Flags().StringSliceVar(&imageCategories, "categories", nil, "Image categories")
	imageListCmd.Flags().IntVar(&imageLimit, "limit", 5, "Number of images")
	imageSearchCmd.Flags().IntVar(&imageLimit, "limit", 5, "Number of images")
	imageCmd.AddCommand(imageAddCmd, imageListCmd, imageSearchCmd)
}
