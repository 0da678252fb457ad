package cmd

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/internal/output"
	"github.com/gcpkit/gcpkit/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Cloud Storage buckets and objects",
}

var storageLsCmd = &cobra.Command{
	Use:   "ls [bucket[/prefix]]",
	Short: "List buckets, or the objects under a bucket prefix",
	Example: `  - gcpkit storage ls
  - gcpkit storage ls my-bucket
  - gcpkit storage ls my-bucket/reports/2026`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		client, err := storage.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		defer client.Close()

		if len(args) == 0 {
			buckets, err := client.ListBuckets(ctx, "")
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(buckets))
			for _, b := range buckets {
				rows = append(rows, []string{b.Name, b.Location, b.StorageClass})
			}
			output.Table([]string{"BUCKET", "LOCATION", "CLASS"}, rows)
			return nil
		}

		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(args[0], "gs://"), "/")
		objects, err := client.ListObjects(ctx, bucket, prefix, "", 0)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(objects))
		for _, o := range objects {
			rows = append(rows, []string{o.Name, output.Bytes(o.Size), fmtTime(o.Updated)})
		}
		output.Table([]string{"OBJECT", "SIZE", "UPDATED"}, rows)
		return nil
	},
}

var storageCpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy between local files and gs:// objects",
	Example: `  - gcpkit storage cp report.csv gs://my-bucket/reports/report.csv
  - gcpkit storage cp gs://my-bucket/reports/report.csv ./report.csv`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		src, dst := args[0], args[1]

		client, err := storage.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		defer client.Close()

		srcRemote := strings.HasPrefix(src, "gs://")
		dstRemote := strings.HasPrefix(dst, "gs://")
		switch {
		case srcRemote && !dstRemote:
			bucket, object, err := splitObjectURL(src)
			if err != nil {
				return err
			}
			if err := client.DownloadFile(ctx, bucket, object, dst); err != nil {
				return err
			}
			output.Success("Downloaded %s to %s", src, dst)
			return nil
		case !srcRemote && dstRemote:
			bucket, object, err := splitObjectURL(dst)
			if err != nil {
				return err
			}
			if object == "" || strings.HasSuffix(object, "/") {
				object = path.Join(object, path.Base(src))
			}
			result, err := client.UploadFile(ctx, bucket, src, object)
			if err != nil {
				return err
			}
			output.Success("Uploaded %s to gs://%s/%s (%s)",
				src, result.Bucket, result.ObjectName, output.Bytes(result.Size))
			return nil
		default:
			return fmt.Errorf("%w: exactly one of src and dst must be a gs:// url", errUsage)
		}
	},
}

var storageRmForce bool

var storageRmCmd = &cobra.Command{
	Use:     "rm gs://bucket/object",
	Short:   "Delete an object",
	Example: `  - gcpkit storage rm gs://my-bucket/reports/stale.csv`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		bucket, object, err := splitObjectURL(args[0])
		if err != nil {
			return err
		}
		if !storageRmForce && !output.Confirm("Delete "+args[0]+"?") {
			output.Info("Aborted")
			return nil
		}

		client, err := storage.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.DeleteObject(ctx, bucket, object); err != nil {
			return err
		}
		output.Success("Deleted %s", args[0])
		return nil
	},
}

// splitObjectURL splits "gs://bucket/path/to/object" into bucket and
// object. The object part may be empty for bucket-only URLs.
func splitObjectURL(raw string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(raw, "gs://")
	if trimmed == raw || trimmed == "" {
		return "", "", fmt.Errorf("%w: %q is not a gs://bucket/object url", errUsage, raw)
	}
	bucket, object, _ = strings.Cut(trimmed, "/")
	return bucket, object, nil
}

func init() {
	storageRmCmd.Flags().BoolVar(&storageRmForce, "force", false, "delete without confirmation")
	storageCmd.AddCommand(storageLsCmd)
	storageCmd.AddCommand(storageCpCmd)
	storageCmd.AddCommand(storageRmCmd)
	rootCmd.AddCommand(storageCmd)
}
