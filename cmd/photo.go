package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
)

var photoCmd = &cobra.Command{
	Use:     "photo",
	Aliases: []string{"p"},
	Short:   "Capture, edit and verify report photos",
	GroupID: "core",
}

var photoAddCmd = &cobra.Command{
	Use:   "add <report-id> <file>",
	Short: "Attach a photo file to a report",
	Long: `Stores the file bytes unchanged, records their SHA-256 hash and derives a
thumbnail. The binary is uploaded on the next sync.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reportID, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		payload, err := os.ReadFile(args[1])
		if err != nil {
			return fail(output.ErrCodeInvalidInput, "read photo: %v", err)
		}
		in := db.PhotoInput{ReportID: reportID, FileName: filepath.Base(args[1]), Payload: payload}
		in.Caption, _ = cmd.Flags().GetString("caption")
		if ref, _ := cmd.Flags().GetString("defect"); ref != "" {
			if in.DefectID, err = resolveID(store, models.EntityDefect, ref); err != nil {
				return err
			}
		}
		if ref, _ := cmd.Flags().GetString("element"); ref != "" {
			if in.ElementID, err = resolveID(store, models.EntityElement, ref); err != nil {
				return err
			}
		}

		p, err := store.CreatePhoto(in)
		if err != nil {
			return failErr("add photo", err)
		}
		if jsonOutput {
			return output.JSON(p)
		}
		fmt.Printf("ADDED photo %s (%s, sha256 %s)\n", p.ID, output.FormatBytes(p.Size), output.ShortID(p.OriginalHash))
		return nil
	},
}

var photoEditCmd = &cobra.Command{
	Use:   "edit <photo-id> <file>",
	Short: "Store edited content as a new photo linked to the original",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		srcID, err := resolveID(store, models.EntityPhoto, args[0])
		if err != nil {
			return err
		}
		payload, err := os.ReadFile(args[1])
		if err != nil {
			return fail(output.ErrCodeInvalidInput, "read photo: %v", err)
		}
		caption, _ := cmd.Flags().GetString("caption")

		p, err := store.CreateEditedPhoto(srcID, payload, caption)
		if err != nil {
			return failErr("store edited photo", err)
		}
		if jsonOutput {
			return output.JSON(p)
		}
		fmt.Printf("ADDED photo %s (edited from %s)\n", p.ID, output.ShortID(srcID))
		return nil
	},
}

var photoListCmd = &cobra.Command{
	Use:     "list <report-id>",
	Aliases: []string{"ls"},
	Short:   "List the photos of a report",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reportID, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		photos, err := store.ListPhotos(reportID)
		if err != nil {
			return failErr("list photos", err)
		}
		if jsonOutput {
			return output.JSON(photos)
		}
		if len(photos) == 0 {
			fmt.Println("No photos.")
			return nil
		}
		for i := range photos {
			fmt.Println(output.FormatPhotoShort(&photos[i]))
		}
		return nil
	},
}

var photoUpdateCmd = &cobra.Command{
	Use:   "update <photo-id>",
	Short: "Change a photo's caption or the defect and element it documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityPhoto, args[0])
		if err != nil {
			return err
		}
		var p db.PhotoPatch
		p.Caption = stringFlag(cmd, "caption")
		if s := stringFlag(cmd, "defect"); s != nil {
			defectID := ""
			if *s != "" {
				if defectID, err = resolveID(store, models.EntityDefect, *s); err != nil {
					return err
				}
			}
			p.DefectID = &defectID
		}
		if s := stringFlag(cmd, "element"); s != nil {
			elementID := ""
			if *s != "" {
				if elementID, err = resolveID(store, models.EntityElement, *s); err != nil {
					return err
				}
			}
			p.ElementID = &elementID
		}

		ph, err := store.UpdatePhoto(id, p)
		if err != nil {
			return failErr("update photo", err)
		}
		if jsonOutput {
			return output.JSON(ph)
		}
		fmt.Printf("UPDATED photo %s\n", ph.ID)
		return nil
	},
}

var photoDeleteCmd = &cobra.Command{
	Use:     "delete <photo-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a photo",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityPhoto, args[0])
		if err != nil {
			return err
		}
		if err := store.DeletePhoto(id); err != nil {
			return failErr("delete photo", err)
		}
		if jsonOutput {
			return output.JSON(map[string]string{"deleted": id})
		}
		fmt.Printf("DELETED photo %s\n", id)
		return nil
	},
}

var photoVerifyCmd = &cobra.Command{
	Use:   "verify <report-id|photo-id>",
	Short: "Check stored photo bytes against the hash recorded at capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var photoIDs []string
		if id, err := store.ResolveID(models.EntityPhoto, args[0]); err == nil {
			photoIDs = []string{id}
		} else {
			reportID, err := resolveReportID(store, args[0])
			if err != nil {
				return err
			}
			photos, err := store.ListPhotos(reportID)
			if err != nil {
				return failErr("list photos", err)
			}
			for _, p := range photos {
				photoIDs = append(photoIDs, p.ID)
			}
		}

		results := map[string]string{}
		bad := 0
		for _, id := range photoIDs {
			ok, err := store.VerifyPhotoIntegrity(id)
			switch {
			case err != nil:
				// photos received from the server carry no local payload
				results[id] = "no local payload"
			case ok:
				results[id] = "ok"
			default:
				results[id] = "MISMATCH"
				bad++
			}
		}

		if jsonOutput {
			if err := output.JSON(results); err != nil {
				return err
			}
		} else {
			for _, id := range photoIDs {
				fmt.Printf("%s  %s\n", output.ShortID(id), results[id])
			}
		}
		if bad > 0 {
			return fail(output.ErrCodeConflict, "%d photo(s) failed the integrity check", bad)
		}
		return nil
	},
}

var photoExportCmd = &cobra.Command{
	Use:   "export <photo-id> <file>",
	Short: "Write the stored photo bytes to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityPhoto, args[0])
		if err != nil {
			return err
		}
		payload, err := store.GetPhotoPayload(id)
		if err != nil {
			return failErr("read photo", err)
		}
		if len(payload) == 0 {
			return fail(output.ErrCodeNotFound, "photo %s has no local payload", output.ShortID(id))
		}
		if err := os.WriteFile(args[1], payload, 0644); err != nil {
			return fail(output.ErrCodeInvalidInput, "write %s: %v", args[1], err)
		}
		fmt.Printf("Wrote %s (%s)\n", args[1], output.FormatBytes(int64(len(payload))))
		return nil
	},
}

var photoRetryCmd = &cobra.Command{
	Use:   "retry-uploads",
	Short: "Retry photo binaries whose upload failed",
	Long: `Requests fresh upload targets for every photo in upload error and transfers
them now. With --offline the photos are only reset to pending so the next
sync picks them up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		offline, _ := cmd.Flags().GetBool("offline")
		if offline {
			failed, err := store.ListPhotosByUploadStatus(models.UploadError)
			if err != nil {
				return failErr("list failed photos", err)
			}
			n := 0
			for _, p := range failed {
				if p.Deleted {
					continue
				}
				if err := store.ResetPhotoUpload(p.ID); err != nil {
					return failErr("reset photo", err)
				}
				n++
			}
			if jsonOutput {
				return output.JSON(map[string]int{"reset": n})
			}
			fmt.Printf("Reset %d photo(s) to pending.\n", n)
			return nil
		}

		engine, err := newEngine(store)
		if err != nil {
			return err
		}
		res, err := engine.Uploader().RetryFailed(cmd.Context())
		if err != nil {
			return failErr("retry uploads", err)
		}
		if jsonOutput {
			return output.JSON(res)
		}
		fmt.Printf("Uploaded %d photo(s).\n", len(res.Uploaded))
		for _, f := range res.Failed {
			output.Warning("%s: %s", output.ShortID(f.PhotoID), f.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(photoCmd)
	photoCmd.AddCommand(photoAddCmd, photoEditCmd, photoListCmd, photoUpdateCmd, photoDeleteCmd,
		photoVerifyCmd, photoExportCmd, photoRetryCmd)

	photoAddCmd.Flags().String("caption", "", "caption")
	photoAddCmd.Flags().String("defect", "", "defect the photo documents")
	photoAddCmd.Flags().String("element", "", "element the photo documents")

	photoEditCmd.Flags().String("caption", "", "caption for the edited photo (defaults to the original's)")

	photoUpdateCmd.Flags().String("caption", "", "caption")
	photoUpdateCmd.Flags().String("defect", "", "defect the photo documents (empty clears)")
	photoUpdateCmd.Flags().String("element", "", "element the photo documents (empty clears)")

	photoRetryCmd.Flags().Bool("offline", false, "only reset failed photos to pending")
}
